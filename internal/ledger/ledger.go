// Package ledger owns the append-only XP event log and the cached
// per-user XP total.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

// Ledger appends XP events. The user's cached total is advanced on the
// in-memory User in the same call; the orchestrator persists the
// updated total together with the rest of the action's writes, so the
// event log and the cache are never observably inconsistent.
type Ledger struct {
	logger *slog.Logger
}

// New creates a ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// Append validates and records an XP award for the user. Non-positive
// amounts are rejected with ErrInvalidAmount, never clamped.
func (l *Ledger) Append(ctx context.Context, s store.Store, u *domain.User, amount int64, kind domain.ActionKind, metadata map[string]any) (*domain.XPEvent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("award of %d: %w", amount, domain.ErrInvalidAmount)
	}

	ev := domain.XPEvent{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Amount:    amount,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.AppendXPEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("appending xp event: %w", err)
	}

	u.TotalXP += amount

	l.logger.Debug("xp awarded",
		"user_id", u.ID,
		"amount", amount,
		"action_kind", string(kind),
		"total_xp", u.TotalXP,
	)
	return &ev, nil
}

// TotalXP returns the authoritative total from the event log.
func (l *Ledger) TotalXP(ctx context.Context, s store.Store, userID string) (int64, error) {
	total, err := s.SumXP(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("summing xp events: %w", err)
	}
	return total, nil
}

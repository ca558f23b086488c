package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemStore, *domain.User) {
	t.Helper()
	s := store.NewMemStore()
	u := &domain.User{ID: "u1", Username: "tester", Level: 1}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return New(slog.New(slog.NewTextHandler(io.Discard, nil))), s, u
}

func TestAppendAdvancesTotal(t *testing.T) {
	led, s, u := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{50, 30, 20} {
		if _, err := led.Append(ctx, s, u, amount, domain.ActionQuizCompleted, nil); err != nil {
			t.Fatalf("Append(%d) error = %v", amount, err)
		}
	}

	if u.TotalXP != 100 {
		t.Errorf("TotalXP = %d, want 100", u.TotalXP)
	}

	sum, err := led.TotalXP(ctx, s, u.ID)
	if err != nil {
		t.Fatalf("TotalXP() error = %v", err)
	}
	if sum != u.TotalXP {
		t.Errorf("event log sum = %d, cached total = %d; want equal", sum, u.TotalXP)
	}
}

func TestAppendRejectsNonPositiveAmounts(t *testing.T) {
	led, s, u := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1, -500} {
		_, err := led.Append(ctx, s, u, amount, domain.ActionQuizCompleted, nil)
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("Append(%d) error = %v, want ErrInvalidAmount", amount, err)
		}
	}

	// Rejected awards must leave no trace.
	if u.TotalXP != 0 {
		t.Errorf("TotalXP after rejected awards = %d, want 0", u.TotalXP)
	}
	sum, err := led.TotalXP(ctx, s, u.ID)
	if err != nil {
		t.Fatalf("TotalXP() error = %v", err)
	}
	if sum != 0 {
		t.Errorf("event log sum after rejected awards = %d, want 0", sum)
	}
}

func TestAppendRecordsKindAndMetadata(t *testing.T) {
	led, s, u := newTestLedger(t)
	ctx := context.Background()

	ev, err := led.Append(ctx, s, u, 75, domain.ActionQuestReward, map[string]any{"quest_id": "q1"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ev.Kind != domain.ActionQuestReward {
		t.Errorf("event Kind = %q, want %q", ev.Kind, domain.ActionQuestReward)
	}
	if ev.Metadata["quest_id"] != "q1" {
		t.Errorf("event Metadata[quest_id] = %v, want q1", ev.Metadata["quest_id"])
	}
	if ev.ID == "" {
		t.Error("event ID is empty")
	}
}

// Package level maps cumulative XP to discrete levels via a configured
// threshold table.
package level

import (
	"fmt"
	"sort"

	"github.com/progression-engine/internal/domain"
)

// Resolver is a pure function over a monotonically increasing threshold
// table. thresholds[i] is the cumulative XP required to hold level i+1;
// the first entry is 0 so every user is at least level 1.
type Resolver struct {
	thresholds []int64
}

// NewResolver validates the threshold table and returns a resolver.
func NewResolver(thresholds []int64) (*Resolver, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("level thresholds must not be empty")
	}
	if thresholds[0] != 0 {
		return nil, fmt.Errorf("first level threshold must be 0, got %d", thresholds[0])
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("level thresholds must be strictly increasing (index %d)", i)
		}
	}
	return &Resolver{thresholds: append([]int64(nil), thresholds...)}, nil
}

// MaxLevel returns the highest level the table defines.
func (r *Resolver) MaxLevel() int {
	return len(r.thresholds)
}

// Resolve returns the level for the given total XP: the highest level
// whose threshold is <= totalXP. Totals below the level-1 threshold
// floor to level 1.
func (r *Resolver) Resolve(totalXP int64) domain.LevelInfo {
	if totalXP < 0 {
		totalXP = 0
	}

	// Highest i with thresholds[i] <= totalXP.
	idx := sort.Search(len(r.thresholds), func(i int) bool {
		return r.thresholds[i] > totalXP
	}) - 1
	if idx < 0 {
		idx = 0
	}

	info := domain.LevelInfo{
		Level:       idx + 1,
		XPIntoLevel: totalXP - r.thresholds[idx],
	}
	if idx+1 < len(r.thresholds) {
		info.XPForNextLevel = r.thresholds[idx+1] - r.thresholds[idx]
	}
	return info
}

// Recomputation reports the outcome of re-deriving a user's level from
// their total XP.
type Recomputation struct {
	Info          domain.LevelInfo
	PreviousLevel int
	LeveledUp     bool
}

// Recompute resolves totalXP and compares against the previously cached
// level. LeveledUp is true exactly when the derived level strictly
// increased.
func (r *Resolver) Recompute(previousLevel int, totalXP int64) Recomputation {
	info := r.Resolve(totalXP)
	return Recomputation{
		Info:          info,
		PreviousLevel: previousLevel,
		LeveledUp:     info.Level > previousLevel,
	}
}

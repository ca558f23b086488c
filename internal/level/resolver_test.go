package level

import "testing"

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver([]int64{0, 100, 250, 500, 1000})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestNewResolverRejectsBadTables(t *testing.T) {
	cases := []struct {
		name       string
		thresholds []int64
	}{
		{"empty", nil},
		{"first not zero", []int64{100, 200}},
		{"not increasing", []int64{0, 100, 100}},
		{"decreasing", []int64{0, 200, 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewResolver(tc.thresholds); err == nil {
				t.Fatalf("NewResolver(%v) expected error", tc.thresholds)
			}
		})
	}
}

func TestResolveBoundaries(t *testing.T) {
	r := newTestResolver(t)

	cases := []struct {
		totalXP int64
		level   int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{999, 4},
		{1000, 5},
		{50000, 5},
	}
	for _, tc := range cases {
		if got := r.Resolve(tc.totalXP).Level; got != tc.level {
			t.Errorf("Resolve(%d).Level = %d, want %d", tc.totalXP, got, tc.level)
		}
	}
}

func TestResolveNegativeFloorsToLevelOne(t *testing.T) {
	r := newTestResolver(t)
	info := r.Resolve(-10)
	if info.Level != 1 {
		t.Errorf("Resolve(-10).Level = %d, want 1", info.Level)
	}
	if info.XPIntoLevel != 0 {
		t.Errorf("Resolve(-10).XPIntoLevel = %d, want 0", info.XPIntoLevel)
	}
}

func TestResolveProgressWithinLevel(t *testing.T) {
	r := newTestResolver(t)

	info := r.Resolve(110)
	if info.Level != 2 {
		t.Fatalf("Resolve(110).Level = %d, want 2", info.Level)
	}
	if info.XPIntoLevel != 10 {
		t.Errorf("XPIntoLevel = %d, want 10", info.XPIntoLevel)
	}
	if info.XPForNextLevel != 150 {
		t.Errorf("XPForNextLevel = %d, want 150", info.XPForNextLevel)
	}
}

func TestResolveTopLevelHasNoNextLevel(t *testing.T) {
	r := newTestResolver(t)
	info := r.Resolve(2000)
	if info.Level != r.MaxLevel() {
		t.Fatalf("Resolve(2000).Level = %d, want %d", info.Level, r.MaxLevel())
	}
	if info.XPForNextLevel != 0 {
		t.Errorf("XPForNextLevel at top = %d, want 0", info.XPForNextLevel)
	}
}

func TestResolveIsMonotonic(t *testing.T) {
	r := newTestResolver(t)
	prev := 0
	for xp := int64(0); xp <= 1200; xp += 7 {
		lvl := r.Resolve(xp).Level
		if lvl < prev {
			t.Fatalf("level decreased from %d to %d at xp %d", prev, lvl, xp)
		}
		prev = lvl
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newTestResolver(t)
	for i := 0; i < 5; i++ {
		if got := r.Resolve(777); got != r.Resolve(777) {
			t.Fatalf("Resolve(777) not deterministic: %+v", got)
		}
	}
}

func TestRecompute(t *testing.T) {
	r := newTestResolver(t)

	// 60 + 50 crosses the 100 XP boundary into level 2.
	rec := r.Recompute(1, 110)
	if !rec.LeveledUp {
		t.Error("Recompute(1, 110).LeveledUp = false, want true")
	}
	if rec.Info.Level != 2 {
		t.Errorf("Recompute(1, 110).Info.Level = %d, want 2", rec.Info.Level)
	}
	if rec.PreviousLevel != 1 {
		t.Errorf("PreviousLevel = %d, want 1", rec.PreviousLevel)
	}

	// Same level: no level-up flag.
	if rec := r.Recompute(2, 120); rec.LeveledUp {
		t.Error("Recompute(2, 120).LeveledUp = true, want false")
	}
}

package model

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFollowTrend_ZeroFillsAndAccumulates(t *testing.T) {
	counts := []FollowDayCount{
		{Day: day("2026-05-02"), Follows: 5, Unfollows: 1},
		{Day: day("2026-05-04"), Follows: 0, Unfollows: 3},
	}
	end := time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

	got := FollowTrend(counts, end, 4, 100)
	if len(got) != 4 {
		t.Fatalf("expected 4 points, got %d", len(got))
	}

	want := []FollowTrendPoint{
		{Day: "2026-05-01", Net: 0, RunningTotal: 100},
		{Day: "2026-05-02", Follows: 5, Unfollows: 1, Net: 4, RunningTotal: 104},
		{Day: "2026-05-03", Net: 0, RunningTotal: 104},
		{Day: "2026-05-04", Unfollows: 3, Net: -3, RunningTotal: 101},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFollowTrend_IgnoresCountsOutsideWindow(t *testing.T) {
	counts := []FollowDayCount{
		{Day: day("2026-04-01"), Follows: 50},
		{Day: day("2026-05-10"), Follows: 2},
	}
	got := FollowTrend(counts, day("2026-05-10"), 1, 0)
	if len(got) != 1 || got[0].Follows != 2 || got[0].RunningTotal != 2 {
		t.Fatalf("unexpected trend: %+v", got)
	}
}

func TestFollowTrend_NonPositiveDays(t *testing.T) {
	if got := FollowTrend(nil, time.Now(), 0, 0); len(got) != 0 {
		t.Fatalf("expected empty trend, got %+v", got)
	}
}

package presence

import (
	"testing"
	"time"
)

func TestEnter_BasicTracking(t *testing.T) {
	tr := New()
	at := time.Now().Add(-time.Minute)

	if !tr.Enter("Alice", at) {
		t.Fatal("first Enter should report a new viewer")
	}

	viewers := tr.Viewers()
	if len(viewers) != 1 {
		t.Fatalf("expected 1 viewer, got %d", len(viewers))
	}
	v := viewers[0]
	if v.Username != "alice" {
		t.Errorf("expected username alice, got %s", v.Username)
	}
	if !v.EnteredAt.Equal(at) || !v.LastSeen.Equal(at) {
		t.Errorf("unexpected timestamps: %+v", v)
	}
	if v.LastEvent != "USER_ENTER" || v.Activity != 1 {
		t.Errorf("unexpected activity: %+v", v)
	}
}

func TestSeen_UpdatesExistingViewer(t *testing.T) {
	tr := New()
	start := time.Now().Add(-time.Hour)

	tr.Enter("bob", start)
	if tr.Seen("bob", "CHAT_MESSAGE", start.Add(time.Minute)) {
		t.Error("Seen on a present viewer should not report new")
	}
	tr.Seen("bob", "TIP_EVENT", start.Add(2*time.Minute))

	viewers := tr.Viewers()
	if len(viewers) != 1 {
		t.Fatalf("expected 1 viewer, got %d", len(viewers))
	}
	v := viewers[0]
	if v.Activity != 3 {
		t.Errorf("expected 3 events, got %d", v.Activity)
	}
	if v.LastEvent != "TIP_EVENT" {
		t.Errorf("expected last event TIP_EVENT, got %s", v.LastEvent)
	}
	if !v.EnteredAt.Equal(start) {
		t.Errorf("EnteredAt moved: %v", v.EnteredAt)
	}
}

func TestSeen_OutOfOrderKeepsLatest(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Seen("carol", "CHAT_MESSAGE", now)
	tr.Seen("carol", "CHAT_MESSAGE", now.Add(-time.Minute))

	if got := tr.Viewers()[0].LastSeen; !got.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", got, now)
	}
}

func TestEnter_IgnoresEmptyUsername(t *testing.T) {
	tr := New()
	if tr.Enter("  ", time.Now()) {
		t.Error("empty username should be ignored")
	}
	if tr.Count() != 0 {
		t.Fatalf("expected 0 viewers, got %d", tr.Count())
	}
}

func TestLeave(t *testing.T) {
	tr := New()
	tr.Enter("dave", time.Now())

	if !tr.Leave("DAVE") {
		t.Error("Leave should report a present viewer")
	}
	if tr.Leave("dave") {
		t.Error("second Leave should report absent")
	}
	if tr.Count() != 0 {
		t.Errorf("Count = %d, want 0", tr.Count())
	}
}

func TestPeak(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Enter("a", now)
	tr.Enter("b", now)
	tr.Enter("c", now)
	tr.Leave("a")
	tr.Leave("b")

	if tr.Peak() != 3 {
		t.Errorf("Peak = %d, want 3", tr.Peak())
	}

	tr.ResetPeak()
	if tr.Peak() != 1 {
		t.Errorf("Peak after reset = %d, want current count 1", tr.Peak())
	}

	tr.Enter("d", now)
	if tr.Peak() != 2 {
		t.Errorf("Peak = %d, want 2", tr.Peak())
	}

	tr.Clear()
	if tr.Count() != 0 || tr.Peak() != 2 {
		t.Errorf("Clear: count=%d peak=%d", tr.Count(), tr.Peak())
	}
}

func TestViewers_SortedByMostRecent(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.Enter("first", now.Add(-3*time.Minute))
	tr.Enter("second", now.Add(-2*time.Minute))
	tr.Enter("third", now.Add(-time.Minute))

	viewers := tr.Viewers()
	if len(viewers) != 3 {
		t.Fatalf("expected 3 viewers, got %d", len(viewers))
	}
	if viewers[0].Username != "third" {
		t.Errorf("expected third first, got %s", viewers[0].Username)
	}
	if viewers[2].Username != "first" {
		t.Errorf("expected first last, got %s", viewers[2].Username)
	}
}

func TestSweep_DropsIdleViewers(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Enter("idle", now.Add(-45*time.Minute))
	tr.Enter("active", now.Add(-time.Minute))

	var gone []string
	tr.sweep(&ReaperConfig{
		IdleThreshold: 30 * time.Minute,
		OnGone: func(username string) {
			gone = append(gone, username)
		},
	})

	if len(gone) != 1 || gone[0] != "idle" {
		t.Errorf("expected idle to be reaped, got %v", gone)
	}
	if tr.Count() != 1 || tr.Viewers()[0].Username != "active" {
		t.Errorf("unexpected room after sweep: %+v", tr.Viewers())
	}
}

func TestSweep_ReturningViewerReenters(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Enter("zombie", now.Add(-time.Hour))
	tr.sweep(&ReaperConfig{IdleThreshold: 30 * time.Minute})

	if !tr.Seen("zombie", "CHAT_MESSAGE", now) {
		t.Error("viewer dropped by the reaper should re-enter as new")
	}
	if v := tr.Viewers()[0]; !v.EnteredAt.Equal(now) || v.Activity != 1 {
		t.Errorf("unexpected state after re-entry: %+v", v)
	}
}

func TestStartReaper_StopsCleanly(t *testing.T) {
	tr := New()

	tr.StartReaper(&ReaperConfig{
		SweepInterval: 50 * time.Millisecond,
	})

	// Let it run a couple sweeps.
	time.Sleep(150 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2 seconds")
	}
}

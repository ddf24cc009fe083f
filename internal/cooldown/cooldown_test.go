package cooldown

import (
	"reflect"
	"testing"
	"time"
)

func newTestTracker() (*Tracker, *time.Time) {
	tr := NewTracker()
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestCooldownWindow(t *testing.T) {
	tr, now := newTestTracker()

	if tr.InCooldown("m") {
		t.Fatal("unmarked model should not be cooling")
	}
	tr.MarkRateLimited("m")
	if !tr.InCooldown("m") {
		t.Fatal("marked model should be cooling")
	}

	*now = now.Add(59 * time.Second)
	if !tr.InCooldown("m") {
		t.Fatal("still inside the window")
	}

	*now = now.Add(2 * time.Second)
	if tr.InCooldown("m") {
		t.Fatal("window elapsed, model should be healthy")
	}
}

func TestRemarkRestartsWindow(t *testing.T) {
	tr, now := newTestTracker()
	tr.MarkRateLimited("m")
	*now = now.Add(50 * time.Second)
	tr.MarkRateLimited("m")
	*now = now.Add(50 * time.Second)
	if !tr.InCooldown("m") {
		t.Fatal("re-marking should restart the window")
	}
}

func TestReorder(t *testing.T) {
	tr, _ := newTestTracker()
	tr.MarkRateLimited("b")
	tr.MarkRateLimited("d")

	got := tr.Reorder([]string{"a", "b", "c", "d"})
	want := []string{"a", "c", "b", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Reorder = %v, want %v", got, want)
	}

	// All cooled: order preserved, chain intact.
	tr.MarkRateLimited("a")
	tr.MarkRateLimited("c")
	got = tr.Reorder([]string{"a", "b", "c", "d"})
	want = []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("all-cooled Reorder = %v, want %v", got, want)
	}
}

func TestReorderShortChains(t *testing.T) {
	tr, _ := newTestTracker()
	tr.MarkRateLimited("only")
	if got := tr.Reorder([]string{"only"}); len(got) != 1 || got[0] != "only" {
		t.Fatalf("single-element chain must pass through, got %v", got)
	}
	if got := tr.Reorder(nil); len(got) != 0 {
		t.Fatalf("nil chain must pass through, got %v", got)
	}
}

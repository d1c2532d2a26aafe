package marketcache

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	clock := NewManualClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("initial time: got %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Second)
	if !clock.Now().Equal(start.Add(90 * time.Second)) {
		t.Errorf("after advance: got %v", clock.Now())
	}

	target := start.Add(time.Hour)
	clock.Set(target)
	if !clock.Now().Equal(target) {
		t.Errorf("after set: got %v, want %v", clock.Now(), target)
	}
}

func TestSystemClock(t *testing.T) {
	before := time.Now()
	got := systemClock{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("system clock out of range: %v not in [%v, %v]", got, before, after)
	}
}

package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) {
		t.Errorf("Clock time %v is before measurement time %v", now, before)
	}
	if now.After(after) {
		t.Errorf("Clock time %v is after measurement time %v", now, after)
	}
}

func TestMockClock_NowAndAdvance(t *testing.T) {
	fixed := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(fixed)

	if got := clock.Now(); !got.Equal(fixed) {
		t.Fatalf("Now() = %v, want %v", got, fixed)
	}

	clock.Advance(90 * time.Second)
	want := fixed.Add(90 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("after Advance Now() = %v, want %v", got, want)
	}
}

func TestSteppingClock_AdvancesPerRead(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewSteppingClock(start, time.Second)

	for i := 0; i < 3; i++ {
		want := start.Add(time.Duration(i) * time.Second)
		if got := clock.Now(); !got.Equal(want) {
			t.Fatalf("read %d: Now() = %v, want %v", i, got, want)
		}
	}

	clock.Advance(time.Minute)
	want := start.Add(3*time.Second + time.Minute)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("after Advance Now() = %v, want %v", got, want)
	}
}

func TestMockClock_ImplementsClock(t *testing.T) {
	var _ Clock = NewMockClock(time.Time{})
	var _ Clock = RealClock{}
}

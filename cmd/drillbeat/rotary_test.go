package main

import (
	"testing"
	"time"
)

func TestVolumeAccel_SlowStepsStaySingle(t *testing.T) {
	a := newVolumeAccel()
	t0 := time.Unix(100, 0)

	for i := 0; i < 6; i++ {
		if got := a.scale(1, t0.Add(time.Duration(i)*time.Second)); got != 1 {
			t.Fatalf("step %d: expected 1, got %d", i, got)
		}
	}
}

func TestVolumeAccel_FastStepsAccelerate(t *testing.T) {
	a := newVolumeAccel()
	t0 := time.Unix(100, 0)

	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, a.scale(-1, t0.Add(time.Duration(i)*40*time.Millisecond)))
	}
	want := []int{-1, -1, -1, -3, -3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps %v, want %v", got, want)
		}
	}
}

func TestVolumeAccel_DirectionChangeCountsSeparately(t *testing.T) {
	a := newVolumeAccel()
	t0 := time.Unix(100, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	a.scale(1, at(0))
	a.scale(1, at(20))
	a.scale(1, at(40))
	if got := a.scale(-1, at(60)); got != -1 {
		t.Fatalf("expected -1 after direction change, got %d", got)
	}
	// Three earlier up steps are still in the window.
	if got := a.scale(1, at(80)); got != 3 {
		t.Fatalf("expected accelerated up step, got %d", got)
	}
}

func TestVolumeAccel_WindowExpiry(t *testing.T) {
	a := newVolumeAccel()
	t0 := time.Unix(100, 0)

	for i := 0; i < 4; i++ {
		a.scale(1, t0.Add(time.Duration(i)*10*time.Millisecond))
	}
	if got := a.scale(1, t0.Add(volumeAccelWindow+time.Second)); got != 1 {
		t.Fatalf("expected 1 after the window expired, got %d", got)
	}
	if n := len(a.recent); n != 1 {
		t.Fatalf("expected old steps pruned, have %d", n)
	}
}

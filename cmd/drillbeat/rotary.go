package main

import "time"

const (
	volumeAccelWindow = 300 * time.Millisecond
	volumeAccelFastAt = 4 // same-direction steps within the window
	volumeAccelMult   = 3
)

// volumeAccel scales volume-key steps while a knob is spun (or a key held) fast.
// Only the input goroutine uses it.
type volumeAccel struct {
	window time.Duration
	fastAt int
	mult   int

	recent []keyStep
}

type keyStep struct {
	at  time.Time
	dir int
}

func newVolumeAccel() *volumeAccel {
	return &volumeAccel{
		window: volumeAccelWindow,
		fastAt: volumeAccelFastAt,
		mult:   volumeAccelMult,
		recent: make([]keyStep, 0, 16),
	}
}

// scale records one step in direction dir (+1/-1) and returns the number of
// volume steps to apply.
func (a *volumeAccel) scale(dir int, now time.Time) int {
	cutoff := now.Add(-a.window)

	kept := a.recent[:0]
	for _, s := range a.recent {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	a.recent = append(kept, keyStep{at: now, dir: dir})

	same := 0
	for _, s := range a.recent {
		if s.dir == dir {
			same++
		}
	}
	if same >= a.fastAt {
		return dir * a.mult
	}
	return dir
}

package timeline

import "math"

// CurrentOffsetMs returns the position within the current cycle, in milliseconds, of
// the audio-clock instant nowSec for a session anchored at anchorSec. The result is
// always in [0, TotalDurationMs); an empty timeline yields 0.
func CurrentOffsetMs(tl Timeline, anchorSec, nowSec float64) float64 {
	if tl.Empty() {
		return 0
	}
	total := float64(tl.TotalDurationMs)
	off := math.Mod((nowSec-anchorSec)*1000, total)
	if off < 0 {
		off += total
	}
	// math.Mod of a tiny negative value can round up to total.
	if off >= total {
		off = 0
	}
	return off
}

// Cycle returns how many whole cycles have elapsed since anchorSec. Before the anchor
// (during start headroom) it is 0.
func Cycle(tl Timeline, anchorSec, nowSec float64) int64 {
	if tl.Empty() || nowSec <= anchorSec {
		return 0
	}
	return int64(math.Floor((nowSec - anchorSec) / tl.CycleSeconds()))
}

// CurrentPhase returns the phase containing offsetMs. Zero-length phases never match.
func CurrentPhase(tl Timeline, offsetMs float64) (Phase, bool) {
	i := phaseIndex(tl, offsetMs)
	if i < 0 {
		return Phase{}, false
	}
	return tl.Phases[i], true
}

// ActiveSide returns the weapon side in use at offsetMs: the current phase's side when
// it has one, otherwise the side of the next start phase.
func ActiveSide(tl Timeline, offsetMs float64) Side {
	if p, ok := CurrentPhase(tl, offsetMs); ok && p.Side != SideNone {
		return p.Side
	}
	return FindNextStartSide(tl, offsetMs)
}

// FindNextStartSide scans forward circularly from the phase after the one containing
// offsetMs and returns the side of the first start phase that has one.
func FindNextStartSide(tl Timeline, offsetMs float64) Side {
	n := len(tl.Phases)
	if n == 0 {
		return SideNone
	}
	from := phaseIndex(tl, offsetMs)
	if from < 0 {
		// Past the last phase: the next phase is the first of the next cycle.
		from = n - 1
	}
	for k := 1; k <= n; k++ {
		p := tl.Phases[(from+k)%n]
		if p.ID == PhaseStart && p.Side != SideNone {
			return p.Side
		}
	}
	return SideNone
}

func phaseIndex(tl Timeline, offsetMs float64) int {
	for i, p := range tl.Phases {
		if p.Contains(offsetMs) {
			return i
		}
	}
	return -1
}

// ClockSource is anything that reports the audio clock in seconds.
type ClockSource interface {
	Now() float64
}

// Position is everything a UI frame needs to render playback.
type Position struct {
	OffsetMs float64
	Phase    Phase
	HasPhase bool
	Side     Side
	NextSide Side
	Cycle    int64
}

// Clock derives playback position from an audio clock and an anchor. It never reads
// wall-clock time.
type Clock struct {
	Timeline Timeline
	Anchor   float64
	Source   ClockSource
}

// Read samples the source once and derives the position from that sample.
func (c Clock) Read() Position {
	if c.Source == nil {
		return Position{}
	}
	return c.At(c.Source.Now())
}

// At derives the position for a given audio-clock instant.
func (c Clock) At(nowSec float64) Position {
	off := CurrentOffsetMs(c.Timeline, c.Anchor, nowSec)
	phase, ok := CurrentPhase(c.Timeline, off)
	return Position{
		OffsetMs: off,
		Phase:    phase,
		HasPhase: ok,
		Side:     ActiveSide(c.Timeline, off),
		NextSide: FindNextStartSide(c.Timeline, off),
		Cycle:    Cycle(c.Timeline, c.Anchor, nowSec),
	}
}

package engine

import (
	"math"

	"drillbeat/internal/timeline"
)

// ScheduledCue is a cue placed on the audio clock.
type ScheduledCue struct {
	At    float64 // audio-clock seconds
	Cycle int64
	Cue   timeline.AudioCue
}

// Window returns, in time order, every cue of the repeating timeline anchored at
// baseSec whose absolute time lies in [fromSec, toSec). Cycles before the anchor are
// never played.
//
// A cue's absolute time depends only on its cycle index and offset, so adjacent
// windows [a,b) and [b,c) together yield exactly the cues of [a,c).
func Window(tl timeline.Timeline, baseSec, fromSec, toSec float64) []ScheduledCue {
	if tl.Empty() || !(toSec > fromSec) {
		return nil
	}
	cycleSec := tl.CycleSeconds()

	first := int64(math.Floor((fromSec - baseSec) / cycleSec))
	if first < 0 {
		first = 0
	}
	last := int64(math.Floor((toSec - baseSec) / cycleSec))

	var out []ScheduledCue
	for k := first; k <= last; k++ {
		cycleStart := baseSec + float64(k)*cycleSec
		for _, p := range tl.Phases {
			for _, c := range p.Cues {
				at := cycleStart + float64(c.TimestampMs)/1000
				if at >= fromSec && at < toSec {
					out = append(out, ScheduledCue{At: at, Cycle: k, Cue: c})
				}
			}
		}
	}
	return out
}

// clampToFuture moves t forward to now when it already lies in the past.
func clampToFuture(t, now float64) float64 {
	if t < now {
		return now
	}
	return t
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

package timeline

import (
	"fmt"
	"time"
)

// StepKind discriminates the Step union.
type StepKind string

const (
	StepDirection StepKind = "direction"
	StepShoot     StepKind = "shoot"
)

// Direction is the side a direction step asks the player to move toward.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// Step is one timed instruction of a Pattern.
//
// A Step is either a direction change (Kind == StepDirection, Direction set) or a shot
// (Kind == StepShoot). DurationMs is how long the step lasts before the next one begins;
// steps with DurationMs <= 0 are not playable and contribute nothing to a Timeline.
type Step struct {
	Kind       StepKind  `yaml:"kind" json:"kind"`
	Direction  Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	DurationMs int64     `yaml:"duration_ms" json:"duration_ms"`
}

// DirectionStep returns a direction step.
func DirectionStep(d Direction, durationMs int64) Step {
	return Step{Kind: StepDirection, Direction: d, DurationMs: durationMs}
}

// ShootStep returns a shoot step.
func ShootStep(durationMs int64) Step {
	return Step{Kind: StepShoot, DurationMs: durationMs}
}

// Pattern is an ordered sequence of steps.
type Pattern []Step

// DurationMs returns the playable length of the pattern.
func (p Pattern) DurationMs() int64 {
	var total int64
	for _, s := range p {
		total += nonNegative(s.DurationMs)
	}
	return total
}

// CueKind identifies what a cue signals to the player.
type CueKind string

const (
	CueStart     CueKind = "start"
	CueShoot     CueKind = "shoot"
	CueDirection CueKind = "direction"
	CueEnd       CueKind = "end"
	CueSwap      CueKind = "swap"
)

// PhaseID identifies a phase's role within a cycle.
type PhaseID string

const (
	PhaseStart   PhaseID = "start"
	PhasePattern PhaseID = "pattern"
	PhaseEnd     PhaseID = "end"
	PhaseSwap    PhaseID = "swap"
	PhaseDelay   PhaseID = "delay"
	PhaseReload  PhaseID = "reload"
)

// Side tags phases of dual-weapon timelines. The zero value means "no side".
type Side string

const (
	SideNone Side = ""
	SideA    Side = "A"
	SideB    Side = "B"
)

// Other returns the opposite weapon side.
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// AudioCue is a single tone event at an offset from the start of the cycle.
type AudioCue struct {
	Kind        CueKind   `json:"kind"`
	TimestampMs int64     `json:"timestamp_ms"`
	FrequencyHz float64   `json:"frequency_hz"`
	LengthSec   float64   `json:"length_sec"`
	Amplitude   float64   `json:"amplitude"`
	PhaseID     PhaseID   `json:"phase_id"`
	Direction   Direction `json:"direction,omitempty"`
}

// Offset returns the cue offset as a duration.
func (c AudioCue) Offset() time.Duration {
	return time.Duration(c.TimestampMs) * time.Millisecond
}

// Phase is a named, time-bounded segment of a cycle.
type Phase struct {
	ID      PhaseID    `json:"id"`
	Name    string     `json:"name"`
	StartMs int64      `json:"start_ms"`
	EndMs   int64      `json:"end_ms"`
	Cues    []AudioCue `json:"cues"`
	Side    Side       `json:"side,omitempty"`
}

// DurationMs returns EndMs - StartMs.
func (p Phase) DurationMs() int64 { return p.EndMs - p.StartMs }

// Contains reports whether offsetMs lies in [StartMs, EndMs).
func (p Phase) Contains(offsetMs float64) bool {
	return offsetMs >= float64(p.StartMs) && offsetMs < float64(p.EndMs)
}

// Timeline is one finite, loopable cycle of phases.
//
// A Timeline is a value: builders return a fresh one for every parameter set and
// nothing in this module edits one after it has been built.
type Timeline struct {
	Phases          []Phase `json:"phases"`
	TotalDurationMs int64   `json:"total_duration_ms"`
}

// CycleDuration returns the cycle length as a time.Duration.
func (t Timeline) CycleDuration() time.Duration {
	return time.Duration(t.TotalDurationMs) * time.Millisecond
}

// CycleSeconds returns the cycle length in seconds.
func (t Timeline) CycleSeconds() float64 {
	return float64(t.TotalDurationMs) / 1000
}

// Empty reports whether the timeline has no playable length.
func (t Timeline) Empty() bool { return t.TotalDurationMs <= 0 }

// CueCount returns the number of cues across all phases.
func (t Timeline) CueCount() int {
	n := 0
	for _, p := range t.Phases {
		n += len(p.Cues)
	}
	return n
}

// Validate checks the structural invariants of a built timeline and returns the first
// violation found.
func (t Timeline) Validate() error {
	if len(t.Phases) == 0 {
		if t.TotalDurationMs != 0 {
			return fmt.Errorf("timeline has no phases but total duration %d ms", t.TotalDurationMs)
		}
		return nil
	}
	if t.Phases[0].StartMs != 0 {
		return fmt.Errorf("first phase %q starts at %d ms, want 0", t.Phases[0].Name, t.Phases[0].StartMs)
	}
	for i, p := range t.Phases {
		if p.EndMs < p.StartMs {
			return fmt.Errorf("phase %d %q ends before it starts (%d < %d)", i, p.Name, p.EndMs, p.StartMs)
		}
		if i > 0 && t.Phases[i-1].EndMs != p.StartMs {
			return fmt.Errorf("phase %d %q starts at %d ms, previous ends at %d ms", i, p.Name, p.StartMs, t.Phases[i-1].EndMs)
		}
		for _, c := range p.Cues {
			if c.TimestampMs < p.StartMs || c.TimestampMs >= p.EndMs {
				return fmt.Errorf("cue at %d ms lies outside phase %q [%d,%d)", c.TimestampMs, p.Name, p.StartMs, p.EndMs)
			}
			if c.LengthSec <= 0 {
				return fmt.Errorf("cue at %d ms in phase %q has non-positive length %.4f", c.TimestampMs, p.Name, c.LengthSec)
			}
			if c.Amplitude < 0 || c.Amplitude > 1 {
				return fmt.Errorf("cue at %d ms in phase %q has amplitude %.3f outside [0,1]", c.TimestampMs, p.Name, c.Amplitude)
			}
		}
	}
	if last := t.Phases[len(t.Phases)-1]; last.EndMs != t.TotalDurationMs {
		return fmt.Errorf("last phase ends at %d ms, total duration is %d ms", last.EndMs, t.TotalDurationMs)
	}
	return nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

package timeline

import (
	"fmt"
	"math"
)

// Countdown and cue voicing.
const (
	StartCueCount     = 3
	StartCueSpacingMs = 500
	CountdownMs       = StartCueCount * StartCueSpacingMs // 1500

	StartFrequencyHz = 500.0
	StartLengthSec   = 0.2

	ShootFrequencyHz = 1500.0
	ShootLengthSec   = 0.15

	LeftFrequencyHz      = 400.0
	RightFrequencyHz     = 800.0
	DirectionLengthSec   = 0.15
	EndFrequencyHz       = 1000.0
	SwapFrequencyHz      = 600.0
	DefaultCueAmplitude  = 0.5
	MaxTailCueLengthSec  = 0.9
	TailSafetyMs         = 10
	SwapCueTailTrimMs    = 50
	SwapMs               = 500
	HolsterThresholdMs   = 4600 // 4000 ms gameplay auto-reload + 600 ms buffer
	AutoReloadGameplayMs = 4000
)

// Mode selects which builder a Spec is compiled with.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeDualManual Mode = "dual_manual"
	ModeDualAuto   Mode = "dual_auto"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingle, ModeDualManual, ModeDualAuto:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (must be %s, %s or %s)", s, ModeSingle, ModeDualManual, ModeDualAuto)
	}
}

// Spec is the full parameter set a Timeline is built from.
// Single mode uses only PatternA/ReloadASec; auto-reload mode ignores reload times.
type Spec struct {
	Mode       Mode
	PatternA   Pattern
	PatternB   Pattern
	ReloadASec float64
	ReloadBSec float64
	WaitSec    float64
}

// Build compiles s with the builder its Mode selects.
func Build(s Spec) (Timeline, error) {
	switch s.Mode {
	case ModeSingle, "":
		return BuildSingle(s.PatternA, s.ReloadASec, s.WaitSec), nil
	case ModeDualManual:
		return BuildDualManual(s.PatternA, s.ReloadASec, s.PatternB, s.ReloadBSec, s.WaitSec), nil
	case ModeDualAuto:
		return BuildDualAuto(s.PatternA, s.PatternB, s.WaitSec), nil
	default:
		return Timeline{}, fmt.Errorf("build timeline: unknown mode %q", s.Mode)
	}
}

// BuildSingle compiles a single-weapon cycle: countdown, pattern, then a reload phase
// long enough for the weapon to be ready again plus the user's extra wait.
func BuildSingle(pattern Pattern, reloadSeconds, userWaitSeconds float64) Timeline {
	var b builder
	b.countdown("Countdown", SideNone)
	b.pattern("Pattern", SideNone, pattern)

	endMs := reloadWaitMs(reloadSeconds, userWaitSeconds)
	b.phase(PhaseEnd, "Reload", SideNone, endMs, tailCue(CueEnd, EndFrequencyHz, endMs)...)

	return b.timeline()
}

// BuildDualManual compiles a two-weapon cycle where each weapon is reloaded by hand:
// A is fired, swapped out for B, B is fired, swapped back.
//
// The silent wait after each swap lets the weapon being drawn next finish its reload.
func BuildDualManual(patternA Pattern, reloadA float64, patternB Pattern, reloadB float64, userWaitSeconds float64) Timeline {
	var b builder
	for _, side := range []Side{SideA, SideB} {
		pattern, next, nextReload := patternA, SideB, reloadB
		if side == SideB {
			pattern, next, nextReload = patternB, SideA, reloadA
		}

		b.countdown("Countdown "+string(side), side)
		b.pattern("Pattern "+string(side), side, pattern)
		b.phase(PhaseSwap, "Swap to "+string(next), next, SwapMs, tailCue(CueSwap, SwapFrequencyHz, SwapMs)...)
		b.phase(PhaseReload, "Reload "+string(next), next, reloadWaitMs(nextReload, userWaitSeconds))
	}
	return b.timeline()
}

// Transition describes the holster arithmetic of one swap in an auto-reload cycle.
type Transition struct {
	From, To      Side
	HolsterSpanMs int64 // swap + countdown + the drawn weapon's pattern
	BufferMs      int64 // silent time added so the holstered weapon reaches the threshold
	DelayMs       int64 // user-controlled extra wait
}

// HolsteredMs is the total time the weapon being put away stays unused.
func (t Transition) HolsteredMs() int64 {
	return t.HolsterSpanMs + t.BufferMs + t.DelayMs
}

// AutoTransitions computes the A→B and B→A transitions of an auto-reload cycle.
func AutoTransitions(patternA, patternB Pattern, userWaitSeconds float64) [2]Transition {
	delay := nonNegative(msFromSeconds(userWaitSeconds))
	mk := func(from, to Side, drawn Pattern) Transition {
		span := int64(SwapMs) + CountdownMs + drawn.DurationMs()
		return Transition{
			From:          from,
			To:            to,
			HolsterSpanMs: span,
			BufferMs:      nonNegative(HolsterThresholdMs - span),
			DelayMs:       delay,
		}
	}
	return [2]Transition{
		mk(SideA, SideB, patternB),
		mk(SideB, SideA, patternA),
	}
}

// BuildDualAuto compiles a two-weapon cycle that relies on the game's holster
// auto-reload: every weapon stays holstered at least HolsterThresholdMs before it is
// drawn again. Reload times are irrelevant in this mode.
func BuildDualAuto(patternA, patternB Pattern, userWaitSeconds float64) Timeline {
	trans := AutoTransitions(patternA, patternB, userWaitSeconds)

	var b builder
	for i, side := range []Side{SideA, SideB} {
		pattern := patternA
		if side == SideB {
			pattern = patternB
		}
		tr := trans[i]

		b.countdown("Countdown "+string(side), side)
		b.pattern("Pattern "+string(side), side, pattern)

		swapCue := AudioCue{
			Kind:        CueSwap,
			FrequencyHz: SwapFrequencyHz,
			LengthSec:   float64(SwapMs+tr.DelayMs+tr.BufferMs-SwapCueTailTrimMs) / 1000,
			Amplitude:   DefaultCueAmplitude,
		}
		b.phase(PhaseSwap, "Swap to "+string(tr.To), tr.To, SwapMs, swapCue)
		if tr.DelayMs > 0 {
			b.phase(PhaseDelay, "Delay", tr.To, tr.DelayMs)
		}
		if tr.BufferMs > 0 {
			b.phase(PhaseReload, "Auto-reload "+string(side), tr.To, tr.BufferMs)
		}
	}
	return b.timeline()
}

// reloadWaitMs is the silent time after a pattern: the reload that outlasts the
// countdown, plus the user's wait.
func reloadWaitMs(reloadSeconds, userWaitSeconds float64) int64 {
	return nonNegative(msFromSeconds(reloadSeconds) - CountdownMs + msFromSeconds(userWaitSeconds))
}

// tailCue returns the single cue that opens a phase of durationMs, trimmed so its
// decay ends before the phase boundary. It returns nothing when no audible length
// remains.
func tailCue(kind CueKind, freq float64, durationMs int64) []AudioCue {
	if durationMs <= 0 {
		return nil
	}
	length := math.Min(MaxTailCueLengthSec, math.Max(0, float64(durationMs-TailSafetyMs)/1000))
	if length <= 0 {
		return nil
	}
	return []AudioCue{{Kind: kind, FrequencyHz: freq, LengthSec: length, Amplitude: DefaultCueAmplitude}}
}

func msFromSeconds(s float64) int64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return int64(math.Round(s * 1000))
}

// builder appends contiguous phases.
type builder struct {
	phases []Phase
	at     int64
}

// phase appends a phase of durationMs starting where the previous one ended. Cue
// timestamps are given relative to the phase start.
func (b *builder) phase(id PhaseID, name string, side Side, durationMs int64, cues ...AudioCue) {
	start := b.at
	end := start + nonNegative(durationMs)

	kept := make([]AudioCue, 0, len(cues))
	for _, c := range cues {
		if c.LengthSec <= 0 {
			continue
		}
		c.TimestampMs += start
		if c.TimestampMs >= end {
			continue
		}
		c.PhaseID = id
		kept = append(kept, c)
	}

	b.phases = append(b.phases, Phase{
		ID:      id,
		Name:    name,
		StartMs: start,
		EndMs:   end,
		Cues:    kept,
		Side:    side,
	})
	b.at = end
}

func (b *builder) countdown(name string, side Side) {
	cues := make([]AudioCue, 0, StartCueCount)
	for i := 0; i < StartCueCount; i++ {
		cues = append(cues, AudioCue{
			Kind:        CueStart,
			TimestampMs: int64(i * StartCueSpacingMs),
			FrequencyHz: StartFrequencyHz,
			LengthSec:   StartLengthSec,
			Amplitude:   DefaultCueAmplitude,
		})
	}
	b.phase(PhaseStart, name, side, CountdownMs, cues...)
}

func (b *builder) pattern(name string, side Side, p Pattern) {
	var (
		cues []AudioCue
		at   int64
	)
	for _, s := range p {
		if s.DurationMs <= 0 {
			continue
		}
		if c, ok := stepCue(s); ok {
			c.TimestampMs = at
			cues = append(cues, c)
		}
		at += s.DurationMs
	}
	b.phase(PhasePattern, name, side, at, cues...)
}

func stepCue(s Step) (AudioCue, bool) {
	switch s.Kind {
	case StepShoot:
		return AudioCue{Kind: CueShoot, FrequencyHz: ShootFrequencyHz, LengthSec: ShootLengthSec, Amplitude: DefaultCueAmplitude}, true
	case StepDirection:
		freq := LeftFrequencyHz
		switch s.Direction {
		case Left:
		case Right:
			freq = RightFrequencyHz
		default:
			return AudioCue{}, false
		}
		return AudioCue{Kind: CueDirection, FrequencyHz: freq, LengthSec: DirectionLengthSec, Amplitude: DefaultCueAmplitude, Direction: s.Direction}, true
	default:
		return AudioCue{}, false
	}
}

func (b *builder) timeline() Timeline {
	return Timeline{Phases: b.phases, TotalDurationMs: b.at}
}

// Package audio provides the clocked audio contexts the scheduler plays through.
//
// A Context owns an audio clock (seconds, monotonically non-decreasing) and hands out
// Voices: a tone generator feeding an amplitude envelope, an optional soft limiter and
// a master gain. Every voice parameter is a Param, an automation curve written ahead of
// time against the context clock, in the style of Web Audio AudioParams.
package audio

import (
	"context"
	"errors"
)

// LateTolerance is how far behind the write clock an automation event may land and
// still be applied, moved up to the current time. Anything older fails with
// ErrPastTime.
const LateTolerance = 0.050

var (
	// ErrPastTime is returned when an automation event is written more than
	// LateTolerance before the context's write clock.
	ErrPastTime = errors.New("audio: time is in the past")

	// ErrInvalidValue is returned for values an automation curve cannot reach, such as a
	// non-positive exponential ramp target.
	ErrInvalidValue = errors.New("audio: invalid automation value")

	// ErrClosed is returned by a context that has been closed.
	ErrClosed = errors.New("audio: context closed")

	// ErrNotReady is returned when the output device did not start in time.
	ErrNotReady = errors.New("audio: output not ready")
)

// Param is an automation curve evaluated against the owning context's clock.
// All times are in context seconds.
type Param interface {
	SetValueAtTime(value, at float64) error
	LinearRampToValueAtTime(value, at float64) error
	ExponentialRampToValueAtTime(value, at float64) error
	CancelAndHoldAtTime(at float64) error
}

// Voice is one signal chain: tone generator → envelope → limiter → master gain.
type Voice interface {
	Frequency() Param
	Envelope() Param
	Master() Param

	// Stop silences the tone generator from the given context time on.
	Stop(at float64) error
	// Disconnect removes the voice from the output. It is idempotent.
	Disconnect()
}

// VoiceOptions configures a new voice.
type VoiceOptions struct {
	Limiter bool
}

// Context is a clocked audio output.
type Context interface {
	// Now returns the context clock in seconds: the position the listener hears.
	Now() float64
	// Writable returns the earliest context time a write can still affect. Outputs that
	// render ahead of playback report Now plus their buffered latency.
	Writable() float64
	// Resume starts or restarts the clock. It may block until the output is available.
	Resume(ctx context.Context) error
	// Suspend pauses the clock and the output.
	Suspend() error
	// Unlock primes the output so that scheduled events are audible.
	Unlock(ctx context.Context) error
	NewVoice(opts VoiceOptions) (Voice, error)
	Close() error
}

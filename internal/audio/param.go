package audio

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type eventKind uint8

const (
	eventSet eventKind = iota
	eventLinear
	eventExponential
)

type automationEvent struct {
	kind  eventKind
	at    float64
	value float64
}

// Automation is the Param implementation shared by all contexts.
//
// Events are kept sorted by time. A ramp event describes a curve that starts at the
// previous event and ends at its own time and value. Events that can no longer affect
// the output are pruned as the clock advances.
type Automation struct {
	now func() float64

	mu       sync.Mutex
	defValue float64
	events   []automationEvent
}

// NewAutomation returns a curve holding defaultValue until the first event. now is the
// clock writes are checked against; nil disables the past-time check. Writes up to
// LateTolerance behind now are moved to now.
func NewAutomation(defaultValue float64, now func() float64) *Automation {
	return &Automation{now: now, defValue: defaultValue}
}

func (a *Automation) SetValueAtTime(value, at float64) error {
	return a.insert(automationEvent{kind: eventSet, at: at, value: value})
}

func (a *Automation) LinearRampToValueAtTime(value, at float64) error {
	return a.insert(automationEvent{kind: eventLinear, at: at, value: value})
}

func (a *Automation) ExponentialRampToValueAtTime(value, at float64) error {
	if !(value > 0) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: exponential ramp target %v", ErrInvalidValue, value)
	}
	return a.insert(automationEvent{kind: eventExponential, at: at, value: value})
}

// CancelAndHoldAtTime removes every event at or after at and holds the value the curve
// had at that instant.
func (a *Automation) CancelAndHoldAtTime(at float64) error {
	at, now, err := a.check(at)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	held := a.valueAtLocked(at)
	cut := sort.Search(len(a.events), func(i int) bool { return a.events[i].at >= at })
	a.events = append(a.events[:cut], automationEvent{kind: eventSet, at: at, value: held})
	a.pruneLocked(now)
	return nil
}

// ValueAt evaluates the curve at t.
func (a *Automation) ValueAt(t float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valueAtLocked(t)
}

// Len returns the number of pending events.
func (a *Automation) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// check validates at against the clock and returns the time the event takes effect
// together with the clock reading.
func (a *Automation) check(at float64) (float64, float64, error) {
	if math.IsNaN(at) || math.IsInf(at, 0) {
		return 0, 0, fmt.Errorf("%w: time %v", ErrInvalidValue, at)
	}
	if a.now == nil {
		return at, math.Inf(-1), nil
	}
	now := a.now()
	return clampLate(at, now)
}

// clampLate moves at up to now when it is late by no more than LateTolerance.
func clampLate(at, now float64) (float64, float64, error) {
	switch {
	case at >= now:
		return at, now, nil
	case at >= now-LateTolerance:
		return now, now, nil
	default:
		return at, now, fmt.Errorf("%w: %.6f < %.6f", ErrPastTime, at, now)
	}
}

func (a *Automation) insert(ev automationEvent) error {
	if math.IsNaN(ev.value) {
		return fmt.Errorf("%w: NaN", ErrInvalidValue)
	}
	at, now, err := a.check(ev.at)
	if err != nil {
		return err
	}
	ev.at = at

	a.mu.Lock()
	defer a.mu.Unlock()

	// Events at equal times keep insertion order.
	i := sort.Search(len(a.events), func(i int) bool { return a.events[i].at > ev.at })
	a.events = append(a.events, automationEvent{})
	copy(a.events[i+1:], a.events[i:])
	a.events[i] = ev
	a.pruneLocked(now)
	return nil
}

// pruneLocked drops events that ended before t, keeping the last one as the start
// point of whatever follows.
func (a *Automation) pruneLocked(t float64) {
	i := sort.Search(len(a.events), func(i int) bool { return a.events[i].at > t })
	if i >= 2 {
		a.events = append(a.events[:0], a.events[i-1:]...)
	}
}

func (a *Automation) valueAtLocked(t float64) float64 {
	i := sort.Search(len(a.events), func(i int) bool { return a.events[i].at > t })
	return a.evalLocked(i, t)
}

// evalLocked evaluates at t given i, the index of the first event after t.
func (a *Automation) evalLocked(i int, t float64) float64 {
	if i == 0 {
		return a.defValue
	}
	prev := a.events[i-1]
	if i == len(a.events) {
		return prev.value
	}
	next := a.events[i]
	span := next.at - prev.at
	if span <= 0 {
		return prev.value
	}
	frac := (t - prev.at) / span

	switch next.kind {
	case eventLinear:
		return prev.value + (next.value-prev.value)*frac
	case eventExponential:
		if prev.value <= 0 {
			return prev.value
		}
		return prev.value * math.Pow(next.value/prev.value, frac)
	default:
		return prev.value
	}
}

// fill writes the curve sampled at t0, t0+dt, ... into out and prunes what has been
// played.
func (a *Automation) fill(out []float64, t0, dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.events), func(i int) bool { return a.events[i].at > t0 })
	for k := range out {
		t := t0 + float64(k)*dt
		for i < len(a.events) && a.events[i].at <= t {
			i++
		}
		out[k] = a.evalLocked(i, t)
	}
	if len(out) > 0 {
		a.pruneLocked(t0 + float64(len(out)-1)*dt)
	}
}

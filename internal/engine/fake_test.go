package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"drillbeat/internal/audio"
)

// automationCall is one recorded write to a fakeParam.
type automationCall struct {
	Op    string
	Value float64
	At    float64
}

// fakeContext is a test double for audio.Context with a hand-driven clock.
type fakeContext struct {
	mu sync.Mutex

	now float64
	// tick advances the clock on every read, like a clock that runs while the
	// scheduler works.
	tick float64
	// latency is how far the write clock runs ahead of Now.
	latency   float64
	suspended bool
	closed    bool

	resumeErr   error
	resumeGate  chan struct{} // when set, Resume blocks until closed
	resumeCalls int

	voices []*fakeVoice

	// rejectNext makes the next n param writes fail with audio.ErrPastTime.
	rejectNext int
	rejected   int
}

func newFakeContext(now float64) *fakeContext {
	return &fakeContext{now: now}
}

func (c *fakeContext) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked()
}

func (c *fakeContext) Writable() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked() + c.latency
}

func (c *fakeContext) readLocked() float64 {
	c.now += c.tick
	return c.now
}

func (c *fakeContext) advance(sec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += sec
}

func (c *fakeContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.resumeCalls++
	gate, err := c.resumeGate, c.resumeErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
	return nil
}

func (c *fakeContext) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
	return nil
}

func (c *fakeContext) Unlock(ctx context.Context) error { return nil }

func (c *fakeContext) NewVoice(opts audio.VoiceOptions) (audio.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := &fakeVoice{ctx: c, stopAt: -1}
	v.freq = &fakeParam{ctx: c, name: "freq"}
	v.env = &fakeParam{ctx: c, name: "env"}
	v.master = &fakeParam{ctx: c, name: "master"}
	c.voices = append(c.voices, v)
	return v, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeContext) lastVoice(t *testing.T) *fakeVoice {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.voices) == 0 {
		t.Fatalf("no voice created")
	}
	return c.voices[len(c.voices)-1]
}

func (c *fakeContext) isSuspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// check applies the reject policy and the past-time rule against the write clock,
// returning the time the write takes effect.
func (c *fakeContext) check(at float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectNext > 0 {
		c.rejectNext--
		c.rejected++
		return 0, fmt.Errorf("%w: injected", audio.ErrPastTime)
	}
	w := c.readLocked() + c.latency
	switch {
	case at >= w:
		return at, nil
	case at >= w-audio.LateTolerance:
		return w, nil
	default:
		return 0, fmt.Errorf("%w: %.6f < %.6f", audio.ErrPastTime, at, w)
	}
}

type fakeParam struct {
	ctx  *fakeContext
	name string

	mu    sync.Mutex
	calls []automationCall
}

func (p *fakeParam) record(op string, value, at float64) error {
	at, err := p.ctx.check(at)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, automationCall{Op: op, Value: value, At: at})
	return nil
}

func (p *fakeParam) SetValueAtTime(v, at float64) error { return p.record("set", v, at) }
func (p *fakeParam) LinearRampToValueAtTime(v, at float64) error {
	return p.record("linear", v, at)
}
func (p *fakeParam) ExponentialRampToValueAtTime(v, at float64) error {
	return p.record("exp", v, at)
}
func (p *fakeParam) CancelAndHoldAtTime(at float64) error { return p.record("hold", 0, at) }

func (p *fakeParam) snapshot() []automationCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]automationCall(nil), p.calls...)
}

func (p *fakeParam) callsOf(op string) []automationCall {
	var out []automationCall
	for _, c := range p.snapshot() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeVoice struct {
	ctx               *fakeContext
	freq, env, master *fakeParam

	mu           sync.Mutex
	stopAt       float64
	disconnected int
}

func (v *fakeVoice) Frequency() audio.Param { return v.freq }
func (v *fakeVoice) Envelope() audio.Param  { return v.env }
func (v *fakeVoice) Master() audio.Param    { return v.master }

func (v *fakeVoice) Stop(at float64) error {
	at, err := v.ctx.check(at)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopAt = at
	return nil
}

func (v *fakeVoice) Disconnect() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected++
}

func (v *fakeVoice) isDisconnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnected > 0
}

func openerFor(ac audio.Context) Opener {
	return func() (audio.Context, error) { return ac, nil }
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

package audio

import (
	"context"
	"sync"
)

// Headless is a Context without an output. Its clock is the OS monotonic clock minus
// the time spent suspended, which makes it usable on machines without a sound card and
// for driving UIs in tests.
type Headless struct {
	mix   mixer
	clock func() int64

	mu          sync.Mutex
	base        int64
	suspended   bool
	suspendedAt int64
	paused      int64
	closed      bool
}

// NewHeadless returns a running headless context whose clock starts at 0.
func NewHeadless() *Headless {
	return newHeadless(monotonicNanos)
}

func newHeadless(clock func() int64) *Headless {
	return &Headless{clock: clock, base: clock()}
}

func (h *Headless) Now() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := h.clock()
	if h.suspended {
		ref = h.suspendedAt
	}
	return float64(ref-h.base-h.paused) / 1e9
}

// Writable equals Now: nothing is rendered ahead of the clock.
func (h *Headless) Writable() float64 { return h.Now() }

func (h *Headless) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.suspended {
		h.paused += h.clock() - h.suspendedAt
		h.suspended = false
	}
	return nil
}

func (h *Headless) Suspend() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if !h.suspended {
		h.suspended = true
		h.suspendedAt = h.clock()
	}
	return nil
}

func (h *Headless) Unlock(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

func (h *Headless) NewVoice(opts VoiceOptions) (Voice, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	v := newVoice(h.Now, &h.mix, opts)
	h.mix.add(v)
	return v, nil
}

// Voices returns the number of connected voices.
func (h *Headless) Voices() int { return h.mix.len() }

func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.mix.clear()
	return nil
}

package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stepClock struct{ ns int64 }

func (c *stepClock) now() int64              { return c.ns }
func (c *stepClock) advance(d time.Duration) { c.ns += int64(d) }

func TestHeadless_SuspendFreezesClock(t *testing.T) {
	clk := &stepClock{ns: 1_000_000_000}
	h := newHeadless(clk.now)

	clk.advance(2 * time.Second)
	if got := h.Now(); got != 2 {
		t.Fatalf("Now: got %v, want 2", got)
	}

	if err := h.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	clk.advance(5 * time.Second)
	if got := h.Now(); got != 2 {
		t.Fatalf("suspended Now: got %v, want 2", got)
	}

	if err := h.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	clk.advance(500 * time.Millisecond)
	if got := h.Now(); got != 2.5 {
		t.Fatalf("resumed Now: got %v, want 2.5", got)
	}
}

func TestHeadless_Closed(t *testing.T) {
	h := NewHeadless()
	_ = h.Close()
	if _, err := h.NewVoice(VoiceOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.Resume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Resume, got %v", err)
	}
}

func TestHeadless_MonotonicClockAdvances(t *testing.T) {
	h := NewHeadless()
	a := h.Now()
	time.Sleep(2 * time.Millisecond)
	if b := h.Now(); b <= a {
		t.Fatalf("clock did not advance: %v -> %v", a, b)
	}
}

func TestHeadless_VoiceRejectsPastAutomation(t *testing.T) {
	clk := &stepClock{}
	h := newHeadless(clk.now)
	v, _ := h.NewVoice(VoiceOptions{})
	clk.advance(time.Second)

	if err := v.Envelope().SetValueAtTime(1, 0.5); !errors.Is(err, ErrPastTime) {
		t.Fatalf("expected ErrPastTime, got %v", err)
	}
	if err := v.Stop(0.2); !errors.Is(err, ErrPastTime) {
		t.Fatalf("expected ErrPastTime from Stop, got %v", err)
	}
}

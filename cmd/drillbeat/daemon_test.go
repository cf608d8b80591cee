package main

import (
	"context"
	"testing"
	"time"

	"drillbeat/internal/timeline"
)

type daemonHarness struct {
	eng        *fakeEngine
	events     chan Event
	broadcasts chan StateBroadcast
	cancel     context.CancelFunc
	done       chan struct{}
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := &daemonHarness{
		eng:        newFakeEngine(),
		events:     make(chan Event, 16),
		broadcasts: make(chan StateBroadcast, 64),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	cfg := daemonConfig{UpdateHz: 200, Reduce: testReduceCfg}

	go func() {
		defer close(h.done)
		runDaemon(ctx, h.events, h.eng, newTestState(), cfg, h.broadcasts, discardLogger())
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(time.Second):
			t.Errorf("daemon did not stop")
		}
	})
	return h
}

// nextPlayback returns the next playback broadcast, skipping others.
func (h *daemonHarness) nextPlayback(t *testing.T) BroadcastPlaybackState {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case b := <-h.broadcasts:
			if pb, ok := b.(BroadcastPlaybackState); ok {
				return pb
			}
		case <-deadline:
			t.Fatalf("timeout waiting for playback broadcast")
		}
	}
}

func (h *daemonHarness) snapshot(t *testing.T) StateSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := requestSnapshot(ctx, h.events)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestDaemon_StartPlaysAndReportsSession(t *testing.T) {
	h := startDaemon(t)

	h.events <- StartPlayback{}

	if pb := h.nextPlayback(t); pb.Status != StatusStarting {
		t.Fatalf("expected starting, got %s", pb.Status)
	}
	pb := h.nextPlayback(t)
	if pb.Status != StatusPlaying || pb.SessionID != "fake-session" || pb.AnchorSec != 10.05 {
		t.Fatalf("unexpected playing broadcast: %+v", pb)
	}

	snap := h.snapshot(t)
	if snap.Status != StatusPlaying {
		t.Fatalf("expected playing snapshot, got %s", snap.Status)
	}
	if starts, _, _, _ := h.eng.counts(); starts != 1 {
		t.Fatalf("expected 1 engine start, got %d", starts)
	}
}

func TestDaemon_TicksDerivePhaseFromEngineClock(t *testing.T) {
	h := startDaemon(t)
	h.events <- StartPlayback{}
	h.nextPlayback(t)
	h.nextPlayback(t)

	// 1.6 s after the anchor is inside the pattern phase.
	h.eng.setNow(10.05 + 1.6)

	waitUntil(t, time.Second, func() bool {
		snap := h.snapshot(t)
		return snap.Phase != nil && snap.Phase.ID == timeline.PhasePattern
	}, "phase never reached pattern")
}

func TestDaemon_ParameterChangeStopsEngine(t *testing.T) {
	h := startDaemon(t)
	h.events <- StartPlayback{}
	h.nextPlayback(t)
	h.nextPlayback(t)

	h.events <- SetMode{Mode: timeline.ModeDualAuto}

	if pb := h.nextPlayback(t); pb.Status != StatusIdle {
		t.Fatalf("expected idle after mode change, got %s", pb.Status)
	}
	waitUntil(t, time.Second, func() bool {
		_, stops, _, _ := h.eng.counts()
		return stops == 1
	}, "engine was not stopped")

	snap := h.snapshot(t)
	if snap.Mode != timeline.ModeDualAuto || snap.Status != StatusIdle {
		t.Fatalf("unexpected snapshot after mode change: mode=%s status=%s", snap.Mode, snap.Status)
	}
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	events := make(chan Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(context.Background(), events, newFakeEngine(), newTestState(), daemonConfig{}, nil, discardLogger())
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop after events channel closed")
	}
}

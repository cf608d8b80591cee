package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"drillbeat/internal/engine"
	"drillbeat/internal/timeline"
)

// fakeEngine is a test double for Engine.
type fakeEngine struct {
	mu sync.Mutex

	now      float64
	anchor   float64
	startErr error
	fgErr    error

	starts      []timeline.Timeline
	stops       int
	volumes     []float64
	backgrounds int
	foregrounds int

	state     engine.State
	sessionID string
	tl        timeline.Timeline
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{now: 10, anchor: 10.05, sessionID: "fake-session"}
}

func (f *fakeEngine) Start(ctx context.Context, tl timeline.Timeline, volume float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, tl)
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.state = engine.StatePlaying
	f.tl = tl
	f.volumes = append(f.volumes, volume)
	return f.anchor, nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = engine.StateIdle
}

func (f *fakeEngine) SetVolume(v float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, v)
	return v
}

func (f *fakeEngine) Foreground(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foregrounds++
	return f.fgErr
}

func (f *fakeEngine) Background() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backgrounds++
	return nil
}

func (f *fakeEngine) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeEngine) setNow(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = v
}

func (f *fakeEngine) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := engine.Snapshot{State: f.state, NowSec: f.now, Timeline: f.tl, AnchorSec: f.anchor}
	if f.state == engine.StatePlaying {
		snap.SessionID = f.sessionID
	}
	return snap
}

func (f *fakeEngine) counts() (starts, stops, bgs, fgs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts), f.stops, f.backgrounds, f.foregrounds
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collectEffect(eng Engine, cmd Command) []Event {
	var out []Event
	runEffect(eng, cmd, effectsConfig{}, discardLogger(), func(ev Event) { out = append(out, ev) })
	return out
}

func TestRunEffect_StartSuccessReportsSession(t *testing.T) {
	eng := newFakeEngine()
	tl := newTestState().Timeline

	evs := collectEffect(eng, CmdStartPlayback{Timeline: tl, Volume: 0.5})

	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ps, ok := evs[0].(PlaybackStarted)
	if !ok {
		t.Fatalf("expected PlaybackStarted, got %T", evs[0])
	}
	if ps.SessionID != "fake-session" || ps.AnchorSec != 10.05 {
		t.Fatalf("unexpected PlaybackStarted: %+v", ps)
	}
	if starts, _, _, _ := eng.counts(); starts != 1 {
		t.Fatalf("expected 1 engine start, got %d", starts)
	}
}

func TestRunEffect_StartFailureReportsError(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = engine.ErrClockUnavailable

	evs := collectEffect(eng, CmdStartPlayback{Timeline: newTestState().Timeline, Volume: 0.5})

	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	pf, ok := evs[0].(PlaybackFailed)
	if !ok {
		t.Fatalf("expected PlaybackFailed, got %T", evs[0])
	}
	if !errors.Is(pf.Err, engine.ErrClockUnavailable) {
		t.Fatalf("expected ErrClockUnavailable, got %v", pf.Err)
	}
}

func TestRunEffect_NilEngine(t *testing.T) {
	evs := collectEffect(nil, CmdStartPlayback{})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if _, ok := evs[0].(PlaybackFailed); !ok {
		t.Fatalf("expected PlaybackFailed, got %T", evs[0])
	}

	ack := make(chan struct{}, 1)
	evs = collectEffect(nil, CmdBackground{Ack: ack})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	cf, ok := evs[0].(CommandFailed)
	if !ok {
		t.Fatalf("expected CommandFailed, got %T", evs[0])
	}
	var noEng errNoEngine
	if !errors.As(cf.Err, &noEng) {
		t.Fatalf("expected errNoEngine, got %v", cf.Err)
	}
	select {
	case <-ack:
	default:
		t.Fatalf("expected ack to be released without an engine")
	}
}

func TestRunEffect_StopAndVolume(t *testing.T) {
	eng := newFakeEngine()

	evs := collectEffect(eng, CmdStopPlayback{})
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if _, ok := evs[0].(PlaybackStopped); !ok {
		t.Fatalf("expected PlaybackStopped, got %T", evs[0])
	}

	evs = collectEffect(eng, CmdSetVolume{Volume: 0.25})
	if len(evs) != 0 {
		t.Fatalf("expected no events for volume, got %d", len(evs))
	}
	eng.mu.Lock()
	last := eng.volumes[len(eng.volumes)-1]
	eng.mu.Unlock()
	if last != 0.25 {
		t.Fatalf("expected engine volume 0.25, got %v", last)
	}
}

func TestRunEffect_VisibilitySignalsAck(t *testing.T) {
	eng := newFakeEngine()

	ack := make(chan struct{}, 1)
	evs := collectEffect(eng, CmdBackground{Ack: ack})
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}
	select {
	case <-ack:
	default:
		t.Fatalf("expected background ack")
	}

	eng.fgErr = engine.ErrClockUnavailable
	ack = make(chan struct{}, 1)
	evs = collectEffect(eng, CmdForeground{Ack: ack})
	if len(evs) != 1 {
		t.Fatalf("expected CommandFailed for foreground error, got %d events", len(evs))
	}
	select {
	case <-ack:
	default:
		t.Fatalf("expected foreground ack even on error")
	}

	if _, _, bgs, fgs := eng.counts(); bgs != 1 || fgs != 1 {
		t.Fatalf("expected 1 background and 1 foreground, got %d/%d", bgs, fgs)
	}
}

func TestRunEffect_PublishSnapshotNeverBlocks(t *testing.T) {
	reply := make(chan StateSnapshot) // unbuffered, nobody reading
	done := make(chan struct{})
	go func() {
		defer close(done)
		collectEffect(nil, CmdPublishStateSnapshot{Reply: reply, Snapshot: StateSnapshot{Status: StatusIdle}})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("snapshot publish blocked")
	}

	buffered := make(chan StateSnapshot, 1)
	collectEffect(nil, CmdPublishStateSnapshot{Reply: buffered, Snapshot: StateSnapshot{Status: StatusPlaying}})
	if got := <-buffered; got.Status != StatusPlaying {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"drillbeat/internal/audio"
	"drillbeat/internal/timeline"
)

func TestScheduler_RunningClockKeepsImmediateWrites(t *testing.T) {
	ac := newFakeContext(0)
	ac.tick = 1e-5
	s := NewScheduler(openerFor(ac), manualConfig(), quietLogger())
	if _, err := s.Start(context.Background(), drillTimeline(), 0.2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	v := ac.lastVoice(t)

	if master := v.master.callsOf("set"); len(master) != 1 || master[0].Value != 0.2 {
		t.Fatalf("start volume: %+v", master)
	}
	if env := v.env.snapshot(); len(env) == 0 || env[0].Op != "set" || env[0].Value != EnvelopeFloor {
		t.Fatalf("initial envelope: %+v", env)
	}

	s.SetVolume(0.5)
	calls := v.master.snapshot()
	n := len(calls)
	if n < 3 || calls[n-2].Op != "hold" || calls[n-1].Op != "linear" || calls[n-1].Value != 0.5 {
		t.Fatalf("volume change: %+v", calls)
	}

	s.Stop()
	env := v.env.snapshot()
	hold, release := env[len(env)-2], env[len(env)-1]
	if hold.Op != "hold" || release.Op != "linear" || release.Value != EnvelopeFloor {
		t.Fatalf("stop must hold then release the envelope, got %+v then %+v", hold, release)
	}
	v.mu.Lock()
	stopAt := v.stopAt
	v.mu.Unlock()
	if stopAt < hold.At {
		t.Fatalf("voice stop at %v before the hold at %v", stopAt, hold.At)
	}
}

func TestScheduler_AnchorsPastOutputLatency(t *testing.T) {
	ac := newFakeContext(1)
	ac.latency = 0.5
	s := NewScheduler(openerFor(ac), manualConfig(), quietLogger())

	anchor, err := s.Start(context.Background(), drillTimeline(), 0.7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if math.Abs(anchor-1.55) > 1e-9 {
		t.Fatalf("anchor: got %v, want 1.55", anchor)
	}
	v := ac.lastVoice(t)
	if master := v.master.callsOf("set"); len(master) != 1 || master[0].At != 1.5 {
		t.Fatalf("start volume must be written at the render position: %+v", master)
	}

	ac.advance(1)
	s.Stop()
	env := v.env.snapshot()
	hold, release := env[len(env)-2], env[len(env)-1]
	if math.Abs(hold.At-2.5) > 1e-9 || math.Abs(release.At-(2.5+stopRampSec)) > 1e-9 {
		t.Fatalf("stop ramp: hold %+v release %+v", hold, release)
	}
	waitUntil(t, time.Second, func() bool { return s.Snapshot().State == StateIdle })
}

func TestScheduler_HeadlessVolumeAndStop(t *testing.T) {
	tl := drillTimeline()
	s := NewScheduler(openerFor(audio.NewHeadless()), manualConfig(), quietLogger())
	defer s.Close()

	anchor, err := s.Start(context.Background(), tl, 0.2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := currentSession(s)
	master := sess.voice.Master().(*audio.Automation)
	env := sess.voice.Envelope().(*audio.Automation)

	if got := master.ValueAt(anchor + 1); math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("master gain: got %v, want 0.2", got)
	}

	later := Window(tl, anchor, anchor+5, anchor+10)
	if len(later) == 0 {
		t.Fatalf("expected cues between 5 s and 10 s")
	}
	peakAt := later[0].At + attackSec
	if got := env.ValueAt(peakAt); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("scheduled cue peak: got %v", got)
	}

	s.Stop()
	if got := env.ValueAt(peakAt); got > EnvelopeFloor+1e-9 {
		t.Fatalf("cue scheduled before Stop still sounds: %v", got)
	}
}

func TestScheduler_ShortTailCueDecaysAfterAttack(t *testing.T) {
	tl := timeline.BuildSingle(nil, 1.512, 0)
	var end timeline.AudioCue
	for _, p := range tl.Phases {
		for _, c := range p.Cues {
			if c.Kind == timeline.CueEnd {
				end = c
			}
		}
	}
	if end.LengthSec <= 0 || end.LengthSec >= attackSec {
		t.Fatalf("end cue length %v should be shorter than the attack", end.LengthSec)
	}

	s := NewScheduler(openerFor(audio.NewHeadless()), manualConfig(), quietLogger())
	defer s.Close()
	anchor, err := s.Start(context.Background(), tl, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	env := currentSession(s).voice.Envelope().(*audio.Automation)

	at := anchor + float64(end.TimestampMs)/1000
	if got := env.ValueAt(at + attackSec); math.Abs(got-end.Amplitude) > 1e-9 {
		t.Fatalf("attack peak: got %v, want %v", got, end.Amplitude)
	}
	if got := env.ValueAt(at + attackSec + minDecaySec); got > EnvelopeFloor+1e-9 {
		t.Fatalf("envelope held after a short cue: %v", got)
	}
}

func TestScheduler_ConcurrentStartsCloseSpareContext(t *testing.T) {
	var (
		mu     sync.Mutex
		opened []*fakeContext
	)
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	open := func() (audio.Context, error) {
		c := newFakeContext(0)
		mu.Lock()
		opened = append(opened, c)
		mu.Unlock()
		arrived <- struct{}{}
		<-release
		return c, nil
	}
	s := NewScheduler(open, manualConfig(), quietLogger())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Start(context.Background(), drillTimeline(), 1)
			errs <- err
		}()
	}
	<-arrived
	<-arrived
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && !errors.Is(err, ErrStartCanceled) {
			t.Fatalf("Start: %v", err)
		}
	}

	s.mu.Lock()
	kept := s.ac
	s.mu.Unlock()
	for _, c := range opened {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if (c == kept) == closed {
			t.Fatalf("kept=%v closed=%v: only the spare context must be closed", c == kept, closed)
		}
	}
	s.Stop()
}

// Package engine plays a Timeline through an audio context, repeating its cycle
// indefinitely with cues written ahead of the audio clock in rolling windows.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"drillbeat/internal/audio"
	"drillbeat/internal/timeline"
)

var (
	// ErrClockUnavailable means the audio context could not be created or resumed.
	// Playback did not start; a later Start may succeed.
	ErrClockUnavailable = errors.New("audio clock unavailable")

	// ErrStartCanceled means Stop (or another Start) ran while Start was waiting for
	// the audio clock.
	ErrStartCanceled = errors.New("start canceled")
)

// Envelope shaping, in seconds.
const (
	EnvelopeFloor = 0.0001
	attackSec     = 0.005
	minDecaySec   = 0.005
	hardCutSec    = 0.0005
	volumeRampSec = 0.05
	stopRampSec   = 0.01
	stopGraceSec  = 0.02
)

// State is the playback session state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config tunes the scheduler.
type Config struct {
	Horizon       time.Duration
	TopUpInterval time.Duration
	StartHeadroom time.Duration
	Limiter       bool
}

// DefaultConfig returns a 10 s horizon topped up every second with 50 ms of start
// headroom.
func DefaultConfig() Config {
	return Config{
		Horizon:       10 * time.Second,
		TopUpInterval: time.Second,
		StartHeadroom: 50 * time.Millisecond,
		Limiter:       true,
	}
}

// Opener creates the audio context on first use.
type Opener func() (audio.Context, error)

// Snapshot is a read-only view of the scheduler for UI loops.
type Snapshot struct {
	State             State
	SessionID         string
	Timeline          timeline.Timeline
	AnchorSec         float64
	NowSec            float64
	ScheduledUntilSec float64
	Volume            float64
}

// Clock returns the playback clock for this snapshot's session.
func (s Snapshot) Clock(src timeline.ClockSource) timeline.Clock {
	return timeline.Clock{Timeline: s.Timeline, Anchor: s.AnchorSec, Source: src}
}

type session struct {
	id    string
	voice audio.Voice
	tl    timeline.Timeline

	baseSec           float64
	scheduledUntilSec float64
	lastEnvEndSec     float64

	cancel context.CancelFunc
}

// Scheduler owns the audio context and at most one playback session. All engine
// state is mutated under its lock; readers use Snapshot and Now.
type Scheduler struct {
	open   Opener
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	ac       audio.Context
	state    State
	gen      uint64
	sess     *session
	stopping *session
	volume   float64
}

// NewScheduler returns an idle scheduler. The audio context is opened by the first
// Start.
func NewScheduler(open Opener, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.TopUpInterval <= 0 {
		cfg.TopUpInterval = def.TopUpInterval
	}
	if cfg.StartHeadroom < 0 {
		cfg.StartHeadroom = 0
	}
	return &Scheduler{open: open, cfg: cfg, logger: logger, volume: 1}
}

// Start begins looping tl at the given volume and returns the anchor: the audio-clock
// time of cycle offset 0. Any running session is stopped first.
//
// If the audio clock cannot be acquired Start returns 0 and an error wrapping
// ErrClockUnavailable, and the scheduler stays idle.
func (s *Scheduler) Start(ctx context.Context, tl timeline.Timeline, volume float64) (float64, error) {
	s.mu.Lock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.volume = clampUnit(volume)
	ac := s.ac
	s.mu.Unlock()

	if ac == nil {
		if s.open == nil {
			s.abortStart(gen)
			return 0, fmt.Errorf("%w: no audio backend", ErrClockUnavailable)
		}
		opened, err := s.open()
		if err != nil {
			s.abortStart(gen)
			return 0, fmt.Errorf("%w: %w", ErrClockUnavailable, err)
		}
		s.mu.Lock()
		if s.ac == nil {
			s.ac = opened
		} else if opened != s.ac {
			s.logger.Debug("closing audio context opened by a concurrent start")
			_ = opened.Close()
		}
		ac = s.ac
		s.mu.Unlock()
	}

	if err := ac.Resume(ctx); err != nil {
		s.abortStart(gen)
		return 0, fmt.Errorf("%w: resume: %w", ErrClockUnavailable, err)
	}
	if err := ac.Unlock(ctx); err != nil {
		s.abortStart(gen)
		return 0, fmt.Errorf("%w: unlock: %w", ErrClockUnavailable, err)
	}

	v, err := ac.NewVoice(audio.VoiceOptions{Limiter: s.cfg.Limiter})
	if err != nil {
		s.abortStart(gen)
		return 0, fmt.Errorf("%w: build voice: %w", ErrClockUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateStarting {
		v.Disconnect()
		return 0, ErrStartCanceled
	}

	now := ac.Writable()
	sess := &session{
		id:            uuid.NewString(),
		voice:         v,
		tl:            tl,
		baseSec:       now + s.cfg.StartHeadroom.Seconds(),
		lastEnvEndSec: math.Inf(-1),
	}
	s.automate(sess, "master.set", now, func(t float64) error { return v.Master().SetValueAtTime(s.volume, t) })
	s.automate(sess, "env.set", now, func(t float64) error { return v.Envelope().SetValueAtTime(EnvelopeFloor, t) })

	to := sess.baseSec + s.cfg.Horizon.Seconds()
	n := s.scheduleWindowLocked(sess, sess.baseSec, to)
	sess.scheduledUntilSec = to

	topCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	s.sess = sess
	s.state = StatePlaying
	go s.topUpLoop(topCtx, sess)

	s.logger.Info("playback started",
		"session", sess.id,
		"anchor_sec", sess.baseSec,
		"cycle_ms", tl.TotalDurationMs,
		"cues", n,
	)
	return sess.baseSec, nil
}

func (s *Scheduler) abortStart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == StateStarting {
		s.state = StateIdle
	}
}

// Stop ends the current session without waiting for teardown. It is safe to call at
// any time, including while Start is waiting for the audio clock.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	switch s.state {
	case StateStarting:
		s.gen++
		s.state = StateIdle
		s.logger.Debug("start canceled")
		return
	case StatePlaying:
	default:
		return
	}

	sess := s.sess
	s.sess = nil
	sess.cancel()

	now := s.ac.Writable()
	latency := math.Max(0, now-s.ac.Now())
	env := sess.voice.Envelope()
	s.automate(sess, "env.hold", now, env.CancelAndHoldAtTime)
	s.automate(sess, "env.release", now+stopRampSec, func(t float64) error {
		return env.LinearRampToValueAtTime(EnvelopeFloor, t)
	})
	s.automate(sess, "voice.stop", now+stopGraceSec, sess.voice.Stop)

	s.state = StateStopping
	s.stopping = sess
	time.AfterFunc(time.Duration((stopGraceSec+latency)*float64(time.Second)), func() { s.teardown(sess) })

	s.logger.Info("playback stopping", "session", sess.id)
}

func (s *Scheduler) teardown(sess *session) {
	sess.voice.Disconnect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping != sess {
		return
	}
	s.stopping = nil
	if s.state == StateStopping {
		s.state = StateIdle
	}
	s.logger.Debug("playback session torn down", "session", sess.id)
}

// SetVolume ramps the master gain to v, clamped to [0,1], and returns the value used.
// The volume is remembered for the next session when nothing is playing.
func (s *Scheduler) SetVolume(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = clampUnit(v)
	if s.sess == nil {
		return s.volume
	}

	sess := s.sess
	master := sess.voice.Master()
	now := s.ac.Writable()
	s.automate(sess, "master.hold", now, master.CancelAndHoldAtTime)
	s.automate(sess, "master.ramp", now+volumeRampSec, func(t float64) error {
		return master.LinearRampToValueAtTime(s.volume, t)
	})
	return s.volume
}

// Foreground resumes a suspended audio context if a session is still logically
// playing. The anchor is kept, so cue timing stays relative to the audio clock.
func (s *Scheduler) Foreground(ctx context.Context) error {
	s.mu.Lock()
	ac, state := s.ac, s.state
	s.mu.Unlock()

	if ac == nil || (state != StatePlaying && state != StateStarting) {
		return nil
	}
	if err := ac.Resume(ctx); err != nil {
		return fmt.Errorf("resume on foreground: %w", err)
	}
	s.logger.Debug("audio resumed on foreground", "state", state)
	return nil
}

// Background suspends the audio context.
func (s *Scheduler) Background() error {
	s.mu.Lock()
	ac := s.ac
	s.mu.Unlock()

	if ac == nil {
		return nil
	}
	if err := ac.Suspend(); err != nil {
		return fmt.Errorf("suspend on background: %w", err)
	}
	return nil
}

// Now returns the audio clock, or 0 before the context exists.
func (s *Scheduler) Now() float64 {
	s.mu.Lock()
	ac := s.ac
	s.mu.Unlock()
	if ac == nil {
		return 0
	}
	return ac.Now()
}

// Snapshot returns the current session view.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{State: s.state, Volume: s.volume}
	if s.ac != nil {
		snap.NowSec = s.ac.Now()
	}
	if s.sess != nil {
		snap.SessionID = s.sess.id
		snap.Timeline = s.sess.tl
		snap.AnchorSec = s.sess.baseSec
		snap.ScheduledUntilSec = s.sess.scheduledUntilSec
	}
	return snap
}

// Close stops playback and releases the audio context.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.stopLocked()
	ac := s.ac
	s.ac = nil
	s.mu.Unlock()

	if ac == nil {
		return nil
	}
	return ac.Close()
}

func (s *Scheduler) topUpLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(s.cfg.TopUpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.topUp(sess)
		}
	}
}

// topUp extends the scheduled range of sess to now + horizon.
func (s *Scheduler) topUp(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != sess || s.state != StatePlaying {
		return
	}
	to := s.ac.Writable() + s.cfg.Horizon.Seconds()
	if to <= sess.scheduledUntilSec {
		return
	}
	n := s.scheduleWindowLocked(sess, sess.scheduledUntilSec, to)
	sess.scheduledUntilSec = to
	if n > 0 {
		s.logger.Debug("scheduled cues", "session", sess.id, "count", n, "until_sec", to)
	}
}

func (s *Scheduler) scheduleWindowLocked(sess *session, from, to float64) int {
	cues := Window(sess.tl, sess.baseSec, from, to)
	for _, sc := range cues {
		s.scheduleCueAt(sess, sc.At, sc.Cue)
	}
	return len(cues)
}

// scheduleCueAt writes one cue's frequency and envelope. A still-decaying previous
// envelope is cut hardCutSec before the new attack.
func (s *Scheduler) scheduleCueAt(sess *session, when float64, cue timeline.AudioCue) {
	if cue.LengthSec <= 0 {
		return
	}
	v := sess.voice
	env := v.Envelope()

	if sess.lastEnvEndSec > when-hardCutSec {
		s.automate(sess, "env.cut", when-hardCutSec, env.CancelAndHoldAtTime)
		s.automate(sess, "env.cut_ramp", when, func(t float64) error {
			return env.LinearRampToValueAtTime(EnvelopeFloor, t)
		})
	} else {
		s.automate(sess, "env.floor", when, func(t float64) error {
			return env.SetValueAtTime(EnvelopeFloor, t)
		})
	}

	s.automate(sess, "freq.set", when, func(t float64) error {
		return v.Frequency().SetValueAtTime(cue.FrequencyHz, t)
	})

	amp := clampUnit(cue.Amplitude)
	s.automate(sess, "env.attack", when+attackSec, func(t float64) error {
		return env.LinearRampToValueAtTime(amp, t)
	})
	// Cues shorter than the attack still get a decay after it.
	end := when + math.Max(cue.LengthSec, attackSec+minDecaySec)
	s.automate(sess, "env.decay", end, func(t float64) error {
		return env.ExponentialRampToValueAtTime(EnvelopeFloor, t)
	})
	sess.lastEnvEndSec = end
}

// automate writes one automation event at at, moved up to the context's write clock
// when already past. A rejected write is retried once with a fresh clamp, then logged
// and skipped.
func (s *Scheduler) automate(sess *session, op string, at float64, write func(t float64) error) {
	t := clampToFuture(at, s.ac.Writable())
	err := write(t)
	if err == nil {
		return
	}
	t = clampToFuture(at, s.ac.Writable())
	if err = write(t); err == nil {
		return
	}
	s.logger.Warn("audio automation skipped",
		"session", sess.id,
		"op", op,
		"at_sec", t,
		"error", err,
	)
}

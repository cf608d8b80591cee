package main

import (
	"math"
	"time"

	"drillbeat/internal/timeline"
)

// This file implements the reducer:
//
//   - Reduce() computes next state + commands + broadcasts, without performing I/O
//   - The daemon loop executes Commands (effects.go) and feeds observations back
//   - Broadcasts are handed to the WebSocket broadcaster
//
// The reducer must be pure: the only state it touches is the DaemonState it returns.

// ==============================
// Broadcasts (state feed)
// ==============================

// StateBroadcast is an externally-visible state change emitted by the reducer.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastTimeline is emitted whenever the timeline is rebuilt.
type BroadcastTimeline struct {
	Mode     timeline.Mode
	WaitSec  float64
	Timeline timeline.Timeline
	Err      string
	At       time.Time
}

// BroadcastPlaybackState is emitted on every playback status or visibility change.
type BroadcastPlaybackState struct {
	Status    PlaybackStatus
	SessionID string
	AnchorSec float64
	Error     string
	Visible   bool
	At        time.Time
}

// BroadcastPhaseChanged is emitted when a tick lands in a different phase (or the
// same phase of a new cycle).
type BroadcastPhaseChanged struct {
	Phase PhaseSnapshot
	At    time.Time
}

// BroadcastVolumeChanged is emitted when the volume changes at 0.01 precision.
type BroadcastVolumeChanged struct {
	Volume float64
	At     time.Time
}

func (BroadcastTimeline) broadcastMarker()      {}
func (BroadcastPlaybackState) broadcastMarker() {}
func (BroadcastPhaseChanged) broadcastMarker()  {}
func (BroadcastVolumeChanged) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceConfig tunes reducer policy.
type ReduceConfig struct {
	// VolumeStep is the media-key volume increment.
	VolumeStep float64
}

// ReduceResult is the output of Reduce(): next state plus Commands to execute and
// Broadcasts to publish.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
//
// A parameter change while a session is active always stops it before the
// timeline is rebuilt; the new timeline plays on the next StartPlayback.
func Reduce(s *DaemonState, e Event, cfg ReduceConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState(DefaultDrill(), "", defaultVolume)
	}

	var at time.Time
	if te, ok := e.(TimedEvent); ok {
		e, at = te.Event, te.At
	}

	r := reduction{s: s, at: at}

	switch ev := e.(type) {
	case Tick:
		r.at = ev.Now
		r.derivePhase(ev.AudioNow)

	case StartPlayback:
		r.start()

	case StopPlayback:
		r.stop()

	case TogglePlayback:
		if s.Active() {
			r.stop()
		} else {
			r.start()
		}

	case SetVolume:
		r.setVolume(ev.Volume)

	case AdjustVolume:
		r.setVolume(s.Volume + ev.Delta)

	case VolumeStep:
		r.setVolume(s.Volume + float64(ev.Steps)*cfg.VolumeStep)

	case SetWait:
		if !finite(ev.Seconds) {
			break
		}
		d := s.Drill
		d.WaitSec = math.Max(0, ev.Seconds)
		r.applyDrill(d, s.DrillSource)

	case AdjustWait:
		if !finite(ev.Delta) {
			break
		}
		d := s.Drill
		d.WaitSec = math.Max(0, roundMs(d.WaitSec+ev.Delta))
		r.applyDrill(d, s.DrillSource)

	case SetMode:
		if _, err := timeline.ParseMode(string(ev.Mode)); err != nil {
			break
		}
		d := s.Drill
		d.Mode = ev.Mode
		r.applyDrill(d, s.DrillSource)

	case DrillLoaded:
		if ev.Drill.Volume != nil {
			r.setVolume(*ev.Drill.Volume)
		}
		r.applyDrill(ev.Drill, ev.Source)

	case VisibilityChanged:
		changed := s.Visible != ev.Visible
		s.Visible = ev.Visible
		if ev.Visible {
			r.command(CmdForeground{Ack: ev.Ack})
		} else {
			r.command(CmdBackground{Ack: ev.Ack})
		}
		if changed {
			r.broadcastPlayback()
		}

	case RequestStateSnapshot:
		r.command(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	case PlaybackStarted:
		if s.Playback.Status != StatusStarting {
			// The engine started a session the daemon no longer wants.
			r.command(CmdStopPlayback{})
			break
		}
		s.Playback.Status = StatusPlaying
		s.Playback.SessionID = ev.SessionID
		s.Playback.AnchorSec = ev.AnchorSec
		s.Playback.StartedAt = ev.At
		s.Playback.LastError = ""
		r.at = ev.At
		r.broadcastPlayback()

	case PlaybackFailed:
		s.clearSession()
		if ev.Err != nil {
			s.Playback.LastError = ev.Err.Error()
		}
		r.at = ev.At
		r.broadcastPlayback()

	case PlaybackStopped:
		if s.Playback.Status != StatusIdle {
			s.clearSession()
			r.at = ev.At
			r.broadcastPlayback()
		}

	case CommandFailed:
		if ev.Err != nil {
			s.Playback.LastError = ev.Err.Error()
		}

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.bcs,
	}
}

// reduction accumulates the outputs of one Reduce call.
type reduction struct {
	s    *DaemonState
	at   time.Time
	cmds []Command
	bcs  []StateBroadcast
}

func (r *reduction) command(c Command)          { r.cmds = append(r.cmds, c) }
func (r *reduction) broadcast(b StateBroadcast) { r.bcs = append(r.bcs, b) }
func (r *reduction) broadcastPlayback()         { r.broadcast(r.playbackBroadcast()) }
func (r *reduction) playbackBroadcast() StateBroadcast {
	return BroadcastPlaybackState{
		Status:    r.s.Playback.Status,
		SessionID: r.s.Playback.SessionID,
		AnchorSec: r.s.Playback.AnchorSec,
		Error:     r.s.Playback.LastError,
		Visible:   r.s.Visible,
		At:        r.at,
	}
}

func (r *reduction) start() {
	s := r.s
	if s.Active() {
		return
	}
	if s.TimelineErr != "" {
		s.Playback.LastError = "timeline: " + s.TimelineErr
		r.broadcastPlayback()
		return
	}
	s.Playback.Status = StatusStarting
	s.Playback.LastError = ""
	r.command(CmdStartPlayback{Timeline: s.Timeline, Volume: s.Volume})
	r.broadcastPlayback()
}

func (r *reduction) stop() {
	s := r.s
	if !s.Active() {
		return
	}
	s.clearSession()
	r.command(CmdStopPlayback{})
	r.broadcastPlayback()
}

func (r *reduction) setVolume(v float64) {
	s := r.s
	if math.IsNaN(v) {
		return
	}
	prev := roundVolume(s.Volume)
	s.Volume = clampVolume(v)
	r.command(CmdSetVolume{Volume: s.Volume})
	if next := roundVolume(s.Volume); next != prev {
		r.broadcast(BroadcastVolumeChanged{Volume: next, At: r.at})
	}
}

// applyDrill installs d and rebuilds the timeline, stopping any active session
// first.
func (r *reduction) applyDrill(d Drill, source string) {
	s := r.s
	r.stop()

	if d.Mode == "" {
		d.Mode = timeline.ModeSingle
	}
	s.Drill = d
	s.DrillSource = source
	s.rebuildTimeline()

	r.broadcast(BroadcastTimeline{
		Mode:     s.Drill.Mode,
		WaitSec:  s.Drill.WaitSec,
		Timeline: s.Timeline,
		Err:      s.TimelineErr,
		At:       r.at,
	})
}

// derivePhase recomputes the phase from the audio clock and broadcasts on change.
func (r *reduction) derivePhase(audioNow float64) {
	s := r.s
	if s.Playback.Status != StatusPlaying {
		return
	}

	pos := timeline.Clock{Timeline: s.Timeline, Anchor: s.Playback.AnchorSec}.At(audioNow)
	next := PhaseState{
		Known:    pos.HasPhase,
		ID:       pos.Phase.ID,
		Name:     pos.Phase.Name,
		Side:     pos.Side,
		NextSide: pos.NextSide,
		StartMs:  pos.Phase.StartMs,
		EndMs:    pos.Phase.EndMs,
		OffsetMs: pos.OffsetMs,
		Cycle:    pos.Cycle,
	}

	changed := next.Known != s.Phase.Known ||
		next.StartMs != s.Phase.StartMs ||
		next.ID != s.Phase.ID ||
		next.Cycle != s.Phase.Cycle
	s.Phase = next

	if changed && next.Known {
		r.broadcast(BroadcastPhaseChanged{Phase: s.phaseSnapshot(), At: r.at})
	}
}

// roundMs rounds seconds to whole milliseconds, the builder's resolution.
func roundMs(sec float64) float64 {
	return math.Round(sec*1000) / 1000
}

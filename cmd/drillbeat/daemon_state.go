package main

import (
	"math"
	"time"

	"drillbeat/internal/timeline"
)

// PlaybackStatus is the daemon's view of the playback session.
type PlaybackStatus string

const (
	StatusIdle     PlaybackStatus = "idle"
	StatusStarting PlaybackStatus = "starting"
	StatusPlaying  PlaybackStatus = "playing"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Other goroutines get a StateSnapshot
// through RequestStateSnapshot.
type DaemonState struct {
	// Drill is the current parameter set; Timeline is always built from it.
	Drill       Drill
	DrillSource string

	Timeline    timeline.Timeline
	TimelineErr string

	Playback PlaybackState

	// Volume is the master volume intent (0..1).
	Volume float64

	// Phase is the last phase derived on a tick while playing.
	Phase PhaseState

	// Visible is false while the host is backgrounded.
	Visible bool
}

// PlaybackState tracks the session the engine reported back.
type PlaybackState struct {
	Status    PlaybackStatus
	SessionID string
	AnchorSec float64
	StartedAt time.Time
	LastError string
}

// PhaseState is the derived position within the cycle.
type PhaseState struct {
	Known    bool
	ID       timeline.PhaseID
	Name     string
	Side     timeline.Side
	NextSide timeline.Side
	StartMs  int64
	EndMs    int64
	OffsetMs float64
	Cycle    int64
}

// NewDaemonState returns the initial state for drill d.
func NewDaemonState(d Drill, source string, volume float64) *DaemonState {
	s := &DaemonState{
		Drill:       d,
		DrillSource: source,
		Volume:      clampVolume(volume),
		Visible:     true,
		Playback:    PlaybackState{Status: StatusIdle},
	}
	s.rebuildTimeline()
	return s
}

// rebuildTimeline replaces Timeline with a fresh build of Drill. On failure the
// timeline is emptied so nothing stale can be played.
func (s *DaemonState) rebuildTimeline() {
	tl, err := timeline.Build(s.Drill.Spec())
	if err != nil {
		s.Timeline = timeline.Timeline{}
		s.TimelineErr = err.Error()
		return
	}
	s.Timeline = tl
	s.TimelineErr = ""
}

// Active reports whether a session is starting or playing.
func (s *DaemonState) Active() bool {
	return s.Playback.Status == StatusStarting || s.Playback.Status == StatusPlaying
}

// clearSession returns playback to idle and forgets the derived phase.
func (s *DaemonState) clearSession() {
	s.Playback.Status = StatusIdle
	s.Playback.SessionID = ""
	s.Playback.AnchorSec = 0
	s.Playback.StartedAt = time.Time{}
	s.Phase = PhaseState{}
}

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// roundVolume rounds to 0.01, the precision volume is reported at.
func roundVolume(v float64) float64 {
	return math.Round(v*100) / 100
}

// StateSnapshot is a coherent, read-only copy of the daemon state for other
// goroutines (WebSocket clients, the terminal UI, the HTTP state endpoint).
type StateSnapshot struct {
	Mode        timeline.Mode     `json:"mode"`
	WaitSec     float64           `json:"wait_sec"`
	Volume      float64           `json:"volume"`
	Drill       Drill             `json:"drill"`
	DrillSource string            `json:"drill_source,omitempty"`
	Timeline    timeline.Timeline `json:"timeline"`
	TimelineErr string            `json:"timeline_error,omitempty"`
	Status      PlaybackStatus    `json:"status"`
	SessionID   string            `json:"session_id,omitempty"`
	AnchorSec   float64           `json:"anchor_sec"`
	LastError   string            `json:"last_error,omitempty"`
	Phase       *PhaseSnapshot    `json:"phase,omitempty"`
	Visible     bool              `json:"visible"`
}

// PhaseSnapshot is the JSON form of PhaseState.
type PhaseSnapshot struct {
	ID       timeline.PhaseID `json:"id"`
	Name     string           `json:"name"`
	Side     timeline.Side    `json:"side,omitempty"`
	NextSide timeline.Side    `json:"next_side,omitempty"`
	Weapon   string           `json:"weapon,omitempty"`
	StartMs  int64            `json:"start_ms"`
	EndMs    int64            `json:"end_ms"`
	Cycle    int64            `json:"cycle"`
}

// Snapshot copies the state. Timelines are never mutated after being built, so
// sharing their slices is safe.
func (s *DaemonState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Mode:        s.Drill.Mode,
		WaitSec:     s.Drill.WaitSec,
		Volume:      s.Volume,
		Drill:       s.Drill,
		DrillSource: s.DrillSource,
		Timeline:    s.Timeline,
		TimelineErr: s.TimelineErr,
		Status:      s.Playback.Status,
		SessionID:   s.Playback.SessionID,
		AnchorSec:   s.Playback.AnchorSec,
		LastError:   s.Playback.LastError,
		Visible:     s.Visible,
	}
	if s.Phase.Known {
		p := s.phaseSnapshot()
		snap.Phase = &p
	}
	return snap
}

func (s *DaemonState) phaseSnapshot() PhaseSnapshot {
	return PhaseSnapshot{
		ID:       s.Phase.ID,
		Name:     s.Phase.Name,
		Side:     s.Phase.Side,
		NextSide: s.Phase.NextSide,
		Weapon:   s.Drill.WeaponName(s.Phase.Side),
		StartMs:  s.Phase.StartMs,
		EndMs:    s.Phase.EndMs,
		Cycle:    s.Phase.Cycle,
	}
}

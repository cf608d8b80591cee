package main

import (
	"fmt"

	"drillbeat/internal/timeline"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents a side effect to be executed by the daemon loop against the
// audio engine.
type Command interface {
	commandMarker()
	String() string
}

// CmdStartPlayback starts looping Timeline at Volume. Any running session is
// replaced.
type CmdStartPlayback struct {
	Timeline timeline.Timeline
	Volume   float64
}

func (CmdStartPlayback) commandMarker() {}
func (c CmdStartPlayback) String() string {
	return fmt.Sprintf("CmdStartPlayback(cycle_ms=%d, cues=%d, volume=%.2f)", c.Timeline.TotalDurationMs, c.Timeline.CueCount(), c.Volume)
}

// CmdStopPlayback stops the running session.
type CmdStopPlayback struct{}

func (CmdStopPlayback) commandMarker() {}
func (CmdStopPlayback) String() string { return "CmdStopPlayback()" }

// CmdSetVolume ramps the master gain.
type CmdSetVolume struct {
	Volume float64
}

func (CmdSetVolume) commandMarker()   {}
func (c CmdSetVolume) String() string { return fmt.Sprintf("CmdSetVolume(volume=%.2f)", c.Volume) }

// CmdForeground resumes the audio context after the host came back.
type CmdForeground struct {
	Ack chan<- struct{}
}

func (CmdForeground) commandMarker() {}
func (CmdForeground) String() string { return "CmdForeground()" }

// CmdBackground suspends the audio context while the host is hidden.
type CmdBackground struct {
	Ack chan<- struct{}
}

func (CmdBackground) commandMarker() {}
func (CmdBackground) String() string { return "CmdBackground()" }

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

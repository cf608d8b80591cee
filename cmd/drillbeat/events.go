package main

import (
	"encoding/json"
	"fmt"
	"time"

	"drillbeat/internal/timeline"
)

// ============================================================================
// Events - reducer inputs
// ============================================================================
// Events come from IPC, media keys, the drill watcher, the terminal UI, the
// daemon ticker and the effects layer (observations). The daemon loop wraps
// externally-sourced events in TimedEvent; payload types stay timestamp-free.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent stamps an external event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop at update_hz. AudioNow is the audio clock
// sampled once for this tick; phase derivation never reads wall-clock time.
type Tick struct {
	Now      time.Time
	AudioNow float64
}

func (Tick) eventMarker() {}

// ----------------------------------------------------------------------------
// Transport
// ----------------------------------------------------------------------------

// StartPlayback starts looping the current timeline.
type StartPlayback struct{}

// StopPlayback stops playback. Redundant stops are harmless.
type StopPlayback struct{}

// TogglePlayback starts when idle and stops otherwise.
type TogglePlayback struct{}

func (StartPlayback) eventMarker()  {}
func (StopPlayback) eventMarker()   {}
func (TogglePlayback) eventMarker() {}

// SetVolume sets the master volume (0..1).
type SetVolume struct {
	Volume float64 `json:"volume"`
}

func (SetVolume) eventMarker() {}

// AdjustVolume nudges the master volume by Delta.
type AdjustVolume struct {
	Delta float64 `json:"delta"`
}

func (AdjustVolume) eventMarker() {}

// VolumeStep moves the volume by whole steps (media keys). The step size is
// reducer policy (daemon.volume_step).
type VolumeStep struct {
	Steps int `json:"steps"` // positive=up, negative=down
}

func (VolumeStep) eventMarker() {}

// ----------------------------------------------------------------------------
// Drill parameters (each forces a stop while playing)
// ----------------------------------------------------------------------------

// SetWait sets the user wait between repetitions, in seconds.
type SetWait struct {
	Seconds float64 `json:"seconds"`
}

func (SetWait) eventMarker() {}

// AdjustWait nudges the user wait by Delta seconds, flooring at 0.
type AdjustWait struct {
	Delta float64 `json:"delta"`
}

func (AdjustWait) eventMarker() {}

// SetMode switches between single, dual manual-reload and dual auto-reload.
type SetMode struct {
	Mode timeline.Mode `json:"mode"`
}

func (SetMode) eventMarker() {}

// DrillLoaded replaces the whole drill (from the drill file or IPC).
type DrillLoaded struct {
	Drill  Drill  `json:"drill"`
	Source string `json:"source,omitempty"` // e.g. file path, "ipc"
}

func (DrillLoaded) eventMarker() {}

// ----------------------------------------------------------------------------
// Host visibility
// ----------------------------------------------------------------------------

// VisibilityChanged reports the host going to the background or coming back.
// Ack, when set, is signaled once the audio context has been suspended/resumed.
type VisibilityChanged struct {
	Visible bool            `json:"visible"`
	Ack     chan<- struct{} `json:"-"`
}

func (VisibilityChanged) eventMarker() {}

// ----------------------------------------------------------------------------
// Snapshot requests (in-process only)
// ----------------------------------------------------------------------------

// RequestStateSnapshot asks the daemon for a coherent copy of its state.
// The reply is delivered by the effects layer, never blocking the daemon.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ----------------------------------------------------------------------------
// Observations (emitted by effects)
// ----------------------------------------------------------------------------

// PlaybackStarted is emitted after the scheduler accepted a timeline.
type PlaybackStarted struct {
	SessionID string
	AnchorSec float64
	At        time.Time
}

func (PlaybackStarted) eventMarker() {}

// PlaybackFailed is emitted when Start returned an error.
type PlaybackFailed struct {
	Err error
	At  time.Time
}

func (PlaybackFailed) eventMarker() {}

// PlaybackStopped is emitted after Stop was issued to the scheduler.
type PlaybackStopped struct {
	At time.Time
}

func (PlaybackStopped) eventMarker() {}

// CommandFailed is emitted when executing any other Command fails.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (CommandFailed) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for the IPC wire format with a type discriminator.
// Only externally-controllable events are encodable.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "start_playback":
		return StartPlayback{}, nil
	case "stop_playback":
		return StopPlayback{}, nil
	case "toggle_playback":
		return TogglePlayback{}, nil

	case "set_volume":
		var e SetVolume
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case "adjust_volume":
		var e AdjustVolume
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case "volume_step":
		var e VolumeStep
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case "set_wait":
		var e SetWait
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case "adjust_wait":
		var e AdjustWait
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case "set_mode":
		var e SetMode
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if _, err := timeline.ParseMode(string(e.Mode)); err != nil {
			return nil, fmt.Errorf("unmarshal SetMode: %w", err)
		}
		return e, nil

	case "load_drill":
		var e DrillLoaded
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.Drill.Mode == "" {
			e.Drill.Mode = timeline.ModeSingle
		}
		if err := e.Drill.Validate(); err != nil {
			return nil, fmt.Errorf("unmarshal DrillLoaded: %w", err)
		}
		if e.Source == "" {
			e.Source = "ipc"
		}
		return e, nil

	case "visibility_changed":
		var e VisibilityChanged
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// decodeData unmarshals env.Data into v. A payload is required.
func decodeData(env EventEnvelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("unmarshal %s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return nil
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case StartPlayback:
		env.Type = "start_playback"
	case StopPlayback:
		env.Type = "stop_playback"
	case TogglePlayback:
		env.Type = "toggle_playback"

	case SetVolume:
		env.Type, payload = "set_volume", e
	case AdjustVolume:
		env.Type, payload = "adjust_volume", e
	case VolumeStep:
		env.Type, payload = "volume_step", e
	case SetWait:
		env.Type, payload = "set_wait", e
	case AdjustWait:
		env.Type, payload = "adjust_wait", e
	case SetMode:
		env.Type, payload = "set_mode", e
	case DrillLoaded:
		env.Type, payload = "load_drill", e
	case VisibilityChanged:
		env.Type, payload = "visibility_changed", e

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

package main

import (
	"context"
	"log/slog"
	"time"

	"drillbeat/internal/engine"
	"drillbeat/internal/timeline"
)

// Engine is the audio engine surface the effects layer drives.
// *engine.Scheduler implements it.
type Engine interface {
	Start(ctx context.Context, tl timeline.Timeline, volume float64) (float64, error)
	Stop()
	SetVolume(v float64) float64
	Foreground(ctx context.Context) error
	Background() error
	Now() float64
	Snapshot() engine.Snapshot
}

// effectsConfig bounds blocking engine calls.
type effectsConfig struct {
	StartTimeout time.Duration
}

func (c effectsConfig) startTimeout() time.Duration {
	if c.StartTimeout <= 0 {
		return time.Duration(defaultStartTimeoutMS) * time.Millisecond
	}
	return c.StartTimeout
}

// runEffect executes a single reducer-emitted Command against the engine and
// emits observation Events via onEvent.
//
// It never calls Reduce(); the daemon loop sequences
// Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(
	eng Engine,
	cmd Command,
	cfg effectsConfig,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	now := time.Now()

	// Snapshot replies and acks need no engine.
	switch c := cmd.(type) {
	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}
		return
	}

	if eng == nil {
		if _, ok := cmd.(CmdStartPlayback); ok {
			onEvent(PlaybackFailed{Err: errNoEngine{}, At: now})
			return
		}
		onEvent(CommandFailed{Command: cmd, Err: errNoEngine{}, At: now})
		releaseAck(cmd)
		return
	}

	switch c := cmd.(type) {
	case CmdStartPlayback:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.startTimeout())
		anchor, err := eng.Start(ctx, c.Timeline, c.Volume)
		cancel()
		if err != nil {
			logger.Error("playback start failed", "error", err)
			onEvent(PlaybackFailed{Err: err, At: time.Now()})
			return
		}
		snap := eng.Snapshot()
		onEvent(PlaybackStarted{SessionID: snap.SessionID, AnchorSec: anchor, At: time.Now()})

	case CmdStopPlayback:
		eng.Stop()
		onEvent(PlaybackStopped{At: now})

	case CmdSetVolume:
		eng.SetVolume(c.Volume)

	case CmdBackground:
		defer signalAck(c.Ack)
		if err := eng.Background(); err != nil {
			logger.Warn("audio background failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdForeground:
		defer signalAck(c.Ack)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.startTimeout())
		err := eng.Foreground(ctx)
		cancel()
		if err != nil {
			logger.Warn("audio foreground failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err, At: now})
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(CommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// signalAck notifies a waiter without blocking.
func signalAck(ack chan<- struct{}) {
	if ack == nil {
		return
	}
	select {
	case ack <- struct{}{}:
	default:
	}
}

func releaseAck(cmd Command) {
	switch c := cmd.(type) {
	case CmdBackground:
		signalAck(c.Ack)
	case CmdForeground:
		signalAck(c.Ack)
	}
}

// errNoEngine indicates the daemon was asked to execute a command without an engine.
type errNoEngine struct{}

func (errNoEngine) Error() string { return "no audio engine" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }

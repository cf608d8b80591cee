package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// inputEvent mirrors the kernel's input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents decodes events from r until a read fails. One goroutine per
// device; the epoll reader replaces this on Linux.
func readInputEvents(r io.Reader, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			continue
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

// translateKey maps a media-key event to a daemon event. Releases and unrelated
// keys map to nothing; volume keys also act on auto-repeat.
func translateKey(ev inputEvent) (Event, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}

	switch ev.Code {
	case KEY_VOLUMEUP:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return VolumeStep{Steps: 1}, true
		}
	case KEY_VOLUMEDOWN:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return VolumeStep{Steps: -1}, true
		}
	case KEY_PLAYPAUSE:
		if ev.Value == evValuePress {
			return TogglePlayback{}, true
		}
	case KEY_PLAYCD:
		if ev.Value == evValuePress {
			return StartPlayback{}, true
		}
	case KEY_STOPCD, KEY_PAUSECD:
		if ev.Value == evValuePress {
			return StopPlayback{}, true
		}
	}
	return nil, false
}

// runInput opens the media-key devices and forwards translated keys to the daemon
// until ctx is canceled or a device fails. A device error is logged and ends
// key handling; the daemon keeps running.
func runInput(ctx context.Context, devices []string, out chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		return nil
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(ExpandPath(dev))
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, len(files))
	done := make(chan struct{})
	defer close(done)
	startInputReaders(files, raw, readErr, done)

	logger.Info("media keys enabled", "devices", devices)

	accel := newVolumeAccel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case iev := <-raw:
			ev, ok := translateKey(iev)
			if !ok {
				continue
			}
			if vs, isVol := ev.(VolumeStep); isVol {
				vs.Steps = accel.scale(vs.Steps, time.Now())
				ev = vs
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

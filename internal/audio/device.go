package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

// DeviceConfig describes the PCM stream opened on the output device.
type DeviceConfig struct {
	SampleRate int
	Channels   int
}

// oto allows a single context per process.
var (
	otoOnce  sync.Once
	otoCtx   *oto.Context
	otoReady chan struct{}
	otoErr   error
	otoCfg   DeviceConfig
)

func otoContext(cfg DeviceConfig) (*oto.Context, chan struct{}, error) {
	otoOnce.Do(func() {
		otoCfg = cfg
		otoCtx, otoReady, otoErr = oto.NewContext(cfg.SampleRate, cfg.Channels, oto.FormatSignedInt16LE)
	})
	if otoErr == nil && otoCfg != cfg {
		return nil, nil, fmt.Errorf("output already opened with %d Hz/%d ch", otoCfg.SampleRate, otoCfg.Channels)
	}
	return otoCtx, otoReady, otoErr
}

// Device is a Context backed by the system audio output. Its clock is the number of
// frames the output has consumed, so it only advances while audio is actually flowing.
type Device struct {
	cfg    DeviceConfig
	logger *slog.Logger
	ctx    *oto.Context
	ready  chan struct{}
	mix    mixer

	frames atomic.Int64

	mu     sync.Mutex
	player oto.Player
	last   float64
	closed bool

	// Render goroutine only.
	buf []float64
}

// OpenDevice opens the system output.
func OpenDevice(cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}

	ctx, ready, err := otoContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	logger.Debug("audio output opened", "sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	return &Device{cfg: cfg, logger: logger, ctx: ctx, ready: ready}, nil
}

func (d *Device) frameBytes() int { return 2 * d.cfg.Channels }

// Now returns the playback position of the output in seconds. Frames handed to the
// driver but not yet played are not counted.
func (d *Device) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	frames := d.frames.Load()
	if d.player != nil {
		frames -= int64(d.player.UnplayedBufferSize() / d.frameBytes())
	}
	t := float64(frames) / float64(d.cfg.SampleRate)
	if t < d.last {
		t = d.last
	}
	d.last = t
	return t
}

// Writable returns the render position: the time of the next sample handed to the
// driver. It runs ahead of Now by the player's buffered audio, and automation written
// before it would land in samples that are already rendered.
func (d *Device) Writable() float64 {
	return float64(d.frames.Load()) / float64(d.cfg.SampleRate)
}

func (d *Device) Resume(ctx context.Context) error {
	select {
	case <-d.ready:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("resume audio output: %w", err)
	}
	if d.player == nil {
		d.player = d.ctx.NewPlayer(&deviceReader{d: d})
	}
	if !d.player.IsPlaying() {
		d.player.Play()
	}
	return nil
}

func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.ctx.Suspend(); err != nil {
		return fmt.Errorf("suspend audio output: %w", err)
	}
	return nil
}

// Unlock waits until the output has consumed at least one buffer of silence.
func (d *Device) Unlock(ctx context.Context) error {
	start := d.frames.Load()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for d.frames.Load() <= start {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: output did not start: %w", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Device) NewVoice(opts VoiceOptions) (Voice, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	v := newVoice(d.Writable, &d.mix, opts)
	d.mix.add(v)
	return v, nil
}

// Close stops the player. The underlying output stays open for the process lifetime.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.mix.clear()
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			return fmt.Errorf("close player: %w", err)
		}
	}
	return nil
}

// deviceReader is the PCM stream the output pulls from.
type deviceReader struct {
	d *Device
}

func (r *deviceReader) Read(p []byte) (int, error) {
	d := r.d
	fb := d.frameBytes()
	n := len(p) / fb
	if n == 0 {
		return 0, nil
	}

	d.buf = grow(d.buf, n)
	rate := float64(d.cfg.SampleRate)
	d.mix.render(d.buf, float64(d.frames.Load())/rate, 1/rate)

	for i, s := range d.buf {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := uint16(int16(s * 32767))
		for c := 0; c < d.cfg.Channels; c++ {
			binary.LittleEndian.PutUint16(p[i*fb+2*c:], v)
		}
	}
	d.frames.Add(int64(n))
	return n * fb, nil
}

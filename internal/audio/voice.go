package audio

import (
	"fmt"
	"math"
	"sync"
)

const (
	limiterKnee = 0.8
	twoPi       = 2 * math.Pi
)

// voice renders a sine tone shaped by its envelope and master gain.
type voice struct {
	freq   *Automation
	env    *Automation
	master *Automation
	now    func() float64
	mix    *mixer

	limiter bool

	mu     sync.Mutex
	stopAt float64

	// Render goroutine only.
	phase            float64
	fbuf, ebuf, mbuf []float64
}

func newVoice(now func() float64, mix *mixer, opts VoiceOptions) *voice {
	return &voice{
		freq:    NewAutomation(440, now),
		env:     NewAutomation(0, now),
		master:  NewAutomation(1, now),
		now:     now,
		mix:     mix,
		limiter: opts.Limiter,
		stopAt:  math.Inf(1),
	}
}

func (v *voice) Frequency() Param { return v.freq }
func (v *voice) Envelope() Param  { return v.env }
func (v *voice) Master() Param    { return v.master }

func (v *voice) Stop(at float64) error {
	if math.IsNaN(at) {
		return fmt.Errorf("%w: stop at NaN", ErrInvalidValue)
	}
	if v.now != nil {
		var err error
		if at, _, err = clampLate(at, v.now()); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if at < v.stopAt {
		v.stopAt = at
	}
	return nil
}

func (v *voice) Disconnect() {
	if v.mix != nil {
		v.mix.remove(v)
	}
}

func (v *voice) stopTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopAt
}

// render adds the voice's output for the samples at t0, t0+dt, ... into out.
func (v *voice) render(out []float64, t0, dt float64) {
	n := len(out)
	v.fbuf = grow(v.fbuf, n)
	v.ebuf = grow(v.ebuf, n)
	v.mbuf = grow(v.mbuf, n)
	v.freq.fill(v.fbuf, t0, dt)
	v.env.fill(v.ebuf, t0, dt)
	v.master.fill(v.mbuf, t0, dt)

	stopAt := v.stopTime()
	for k := 0; k < n; k++ {
		if t0+float64(k)*dt >= stopAt {
			return
		}
		v.phase += twoPi * v.fbuf[k] * dt
		if v.phase >= twoPi {
			v.phase = math.Mod(v.phase, twoPi)
		}
		s := math.Sin(v.phase) * v.ebuf[k]
		if v.limiter {
			s = softLimit(s)
		}
		out[k] += s * v.mbuf[k]
	}
}

// softLimit passes signals below the knee untouched and bends the rest toward ±1.
func softLimit(x float64) float64 {
	a := math.Abs(x)
	if a <= limiterKnee {
		return x
	}
	y := limiterKnee + (1-limiterKnee)*math.Tanh((a-limiterKnee)/(1-limiterKnee))
	return math.Copysign(y, x)
}

func grow(b []float64, n int) []float64 {
	if cap(b) < n {
		return make([]float64, n)
	}
	return b[:n]
}

// mixer sums the connected voices.
type mixer struct {
	mu     sync.Mutex
	voices []*voice

	// Render goroutine only.
	snapshot []*voice
}

func (m *mixer) add(v *voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = append(m.voices, v)
}

func (m *mixer) remove(v *voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.voices {
		if x == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

func (m *mixer) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = nil
}

func (m *mixer) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// render overwrites out with the mix at t0, t0+dt, ...
func (m *mixer) render(out []float64, t0, dt float64) {
	for i := range out {
		out[i] = 0
	}
	m.mu.Lock()
	m.snapshot = append(m.snapshot[:0], m.voices...)
	m.mu.Unlock()

	for _, v := range m.snapshot {
		v.render(out, t0, dt)
	}
}

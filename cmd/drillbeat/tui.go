package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"drillbeat/internal/engine"
	"drillbeat/internal/timeline"
)

const (
	tuiFrameInterval = 16 * time.Millisecond
	tuiStateRefresh  = 250 * time.Millisecond
	tuiWaitStep      = 0.1
	tuiBarWidth      = 40
)

var (
	tuiColorText    = lipgloss.Color("#cdd6f4")
	tuiColorMuted   = lipgloss.Color("#7f849c")
	tuiColorBlue    = lipgloss.Color("#89b4fa")
	tuiColorGreen   = lipgloss.Color("#a6e3a1")
	tuiColorPeach   = lipgloss.Color("#fab387")
	tuiColorRed     = lipgloss.Color("#f38ba8")
	tuiColorSurface = lipgloss.Color("#45475a")
)

// playbackView is the read-only engine surface the frame loop samples.
type playbackView interface {
	Snapshot() engine.Snapshot
	Now() float64
}

type frameMsg time.Time

type suspendReadyMsg struct{}

type stateMsg struct {
	snap StateSnapshot
	err  error
}

// tuiModel renders the playback position every frame straight from the engine
// clock. Drill parameters come from periodic daemon snapshots; keys become
// daemon events.
type tuiModel struct {
	view   playbackView
	events chan<- Event

	state     StateSnapshot
	haveState bool
	fetching  bool
	lastFetch time.Time

	engSnap engine.Snapshot
	pos     timeline.Position

	status string
	width  int
}

func newTUIModel(view playbackView, events chan<- Event) tuiModel {
	return tuiModel{view: view, events: events}
}

func frameCmd() tea.Cmd {
	return tea.Tick(tuiFrameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func fetchStateCmd(events chan<- Event) tea.Cmd {
	return func() tea.Msg {
		snap, err := requestSnapshot(context.Background(), events)
		return stateMsg{snap: snap, err: err}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(frameCmd(), fetchStateCmd(m.events))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case frameMsg:
		m.sample()
		cmds := []tea.Cmd{frameCmd()}
		if !m.fetching && time.Time(msg).Sub(m.lastFetch) >= tuiStateRefresh {
			m.fetching = true
			m.lastFetch = time.Time(msg)
			cmds = append(cmds, fetchStateCmd(m.events))
		}
		return m, tea.Batch(cmds...)

	case stateMsg:
		m.fetching = false
		if msg.err != nil {
			m.status = "state: " + msg.err.Error()
			return m, nil
		}
		m.state = msg.snap
		m.haveState = true
		return m, nil

	case suspendReadyMsg:
		return m, tea.Suspend

	case tea.ResumeMsg:
		m.status = ""
		return m, m.send(VisibilityChanged{Visible: true})

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}
	return m, nil
}

// sample reads the engine clock for the current frame.
func (m *tuiModel) sample() {
	if m.view == nil {
		return
	}
	m.engSnap = m.view.Snapshot()
	if m.engSnap.State == engine.StatePlaying {
		m.pos = m.engSnap.Clock(m.view).Read()
	} else {
		m.pos = timeline.Position{}
	}
}

func (m tuiModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var ev Event
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "ctrl+z":
		m.status = "suspending"
		return m, backgroundCmd(m.events)
	case " ", "enter":
		ev = TogglePlayback{}
	case "s":
		ev = StopPlayback{}
	case "+", "=", "up":
		ev = VolumeStep{Steps: 1}
	case "-", "down":
		ev = VolumeStep{Steps: -1}
	case "]", "right":
		ev = AdjustWait{Delta: tuiWaitStep}
	case "[", "left":
		ev = AdjustWait{Delta: -tuiWaitStep}
	case "m":
		ev = SetMode{Mode: nextMode(m.state.Mode)}
	default:
		return m, nil
	}

	select {
	case m.events <- ev:
		m.status = ""
	default:
		m.status = "daemon busy, key dropped"
	}
	// Refresh right away so parameter changes show without waiting a full period.
	if !m.fetching {
		m.fetching = true
		return m, fetchStateCmd(m.events)
	}
	return m, nil
}

// send queues ev from a command so Update never blocks on the daemon.
func (m tuiModel) send(ev Event) tea.Cmd {
	events := m.events
	return func() tea.Msg {
		select {
		case events <- ev:
		case <-time.After(suspendAckTimeout):
		}
		return nil
	}
}

// backgroundCmd silences the audio and reports when it is safe to suspend.
func backgroundCmd(events chan<- Event) tea.Cmd {
	return func() tea.Msg {
		ack := make(chan struct{}, 1)
		select {
		case events <- VisibilityChanged{Visible: false, Ack: ack}:
			select {
			case <-ack:
			case <-time.After(suspendAckTimeout):
			}
		case <-time.After(suspendAckTimeout):
		}
		return suspendReadyMsg{}
	}
}

func nextMode(cur timeline.Mode) timeline.Mode {
	switch cur {
	case timeline.ModeSingle:
		return timeline.ModeDualManual
	case timeline.ModeDualManual:
		return timeline.ModeDualAuto
	default:
		return timeline.ModeSingle
	}
}

func (m tuiModel) View() string {
	title := lipgloss.NewStyle().Foreground(tuiColorBlue).Bold(true)
	label := lipgloss.NewStyle().Foreground(tuiColorMuted).Width(9)
	value := lipgloss.NewStyle().Foreground(tuiColorText)

	var b strings.Builder
	b.WriteString(title.Render("drillbeat"))
	b.WriteString("  ")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	row := func(k, v string) {
		b.WriteString(label.Render(k))
		b.WriteString(value.Render(v))
		b.WriteString("\n")
	}

	if m.haveState {
		row("mode", string(m.state.Mode))
		row("wait", fmt.Sprintf("%.2fs", m.state.WaitSec))
		row("volume", fmt.Sprintf("%3.0f%%", m.state.Volume*100))
		row("cycle", fmt.Sprintf("%.2fs", float64(m.state.Timeline.TotalDurationMs)/1000))
	}

	b.WriteString("\n")
	if m.pos.HasPhase {
		phase := lipgloss.NewStyle().Foreground(phaseColor(m.pos.Phase.ID)).Bold(true)
		b.WriteString(phase.Render(strings.ToUpper(m.pos.Phase.Name)))
		if w := m.weaponLabel(); w != "" {
			b.WriteString(value.Render("  " + w))
		}
		b.WriteString("\n")
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
		row("rep", fmt.Sprintf("%d", m.pos.Cycle+1))
	} else {
		b.WriteString(lipgloss.NewStyle().Foreground(tuiColorMuted).Render("not playing"))
		b.WriteString("\n")
	}

	if m.haveState && m.state.LastError != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(tuiColorRed).Render(m.state.LastError))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(tuiColorPeach).Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(tuiColorMuted).Render(
		"space toggle · s stop · +/- volume · [/] wait · m mode · ctrl+z suspend · q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m tuiModel) renderStatus() string {
	st := string(StatusIdle)
	if m.haveState {
		st = string(m.state.Status)
	}
	c := tuiColorMuted
	switch PlaybackStatus(st) {
	case StatusPlaying:
		c = tuiColorGreen
	case StatusStarting:
		c = tuiColorPeach
	}
	return lipgloss.NewStyle().Foreground(c).Render("● " + st)
}

func (m tuiModel) weaponLabel() string {
	if !m.haveState {
		return ""
	}
	side := m.pos.Side
	if m.pos.Phase.ID == timeline.PhaseSwap {
		side = m.pos.NextSide
	}
	return m.state.Drill.WeaponName(side)
}

// renderProgress draws how far the clock is through the current phase.
func (m tuiModel) renderProgress() string {
	frac := 0.0
	if d := m.pos.Phase.DurationMs(); d > 0 {
		frac = (m.pos.OffsetMs - float64(m.pos.Phase.StartMs)) / float64(d)
	}
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * tuiBarWidth))

	on := lipgloss.NewStyle().Foreground(phaseColor(m.pos.Phase.ID))
	off := lipgloss.NewStyle().Foreground(tuiColorSurface)
	return on.Render(strings.Repeat("█", filled)) + off.Render(strings.Repeat("░", tuiBarWidth-filled))
}

func phaseColor(id timeline.PhaseID) lipgloss.Color {
	switch id {
	case timeline.PhasePattern:
		return tuiColorGreen
	case timeline.PhaseStart:
		return tuiColorBlue
	case timeline.PhaseSwap, timeline.PhaseReload:
		return tuiColorPeach
	default:
		return tuiColorMuted
	}
}

// runTUI blocks until the user quits.
func runTUI(ctx context.Context, view playbackView, events chan<- Event) error {
	p := tea.NewProgram(newTUIModel(view, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

package main

import (
	"math"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"drillbeat/internal/engine"
	"drillbeat/internal/timeline"
)

type fakePlaybackView struct {
	snap engine.Snapshot
	now  float64
}

func (v fakePlaybackView) Snapshot() engine.Snapshot { return v.snap }
func (v fakePlaybackView) Now() float64              { return v.now }

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTUI_KeysSendEvents(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want Event
	}{
		{runeKey("s"), StopPlayback{}},
		{runeKey("+"), VolumeStep{Steps: 1}},
		{tea.KeyMsg{Type: tea.KeyDown}, VolumeStep{Steps: -1}},
		{runeKey("]"), AdjustWait{Delta: tuiWaitStep}},
		{tea.KeyMsg{Type: tea.KeyLeft}, AdjustWait{Delta: -tuiWaitStep}},
		{tea.KeyMsg{Type: tea.KeyEnter}, TogglePlayback{}},
	}

	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			events := make(chan Event, 1)
			m := newTUIModel(nil, events)

			next, cmd := m.Update(tt.key)
			if got := <-events; got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
			if cmd == nil || !next.(tuiModel).fetching {
				t.Fatalf("expected an immediate state refresh")
			}
		})
	}
}

func TestTUI_ModeKeyCyclesFromCurrentState(t *testing.T) {
	events := make(chan Event, 1)
	m := newTUIModel(nil, events)
	m.state.Mode = timeline.ModeDualManual
	m.haveState = true

	m.Update(runeKey("m"))
	if got := <-events; got != (SetMode{Mode: timeline.ModeDualAuto}) {
		t.Fatalf("unexpected event %#v", got)
	}

	if nextMode(timeline.ModeSingle) != timeline.ModeDualManual || nextMode(timeline.ModeDualAuto) != timeline.ModeSingle {
		t.Fatalf("unexpected mode cycle")
	}
}

func TestTUI_FullQueueDropsKey(t *testing.T) {
	events := make(chan Event, 1)
	events <- StartPlayback{}
	m := newTUIModel(nil, events)

	next, _ := m.Update(runeKey("s"))
	if got := next.(tuiModel).status; got != "daemon busy, key dropped" {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestTUI_QuitKey(t *testing.T) {
	m := newTUIModel(nil, make(chan Event, 1))
	_, cmd := m.Update(runeKey("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}

func TestTUI_FrameSamplesEngineClock(t *testing.T) {
	tl := newTestState().Timeline
	view := fakePlaybackView{
		snap: engine.Snapshot{State: engine.StatePlaying, Timeline: tl, AnchorSec: 10},
		now:  11.6,
	}
	m := newTUIModel(view, make(chan Event, 1))
	m.haveState = true
	m.state = StateSnapshot{Mode: timeline.ModeSingle, Status: StatusPlaying, Drill: DefaultDrill(), Timeline: tl}

	next, _ := m.Update(frameMsg(time.Now()))
	got := next.(tuiModel)
	if !got.pos.HasPhase || got.pos.Phase.ID != timeline.PhasePattern {
		t.Fatalf("expected pattern phase, got %+v", got.pos)
	}
	if math.Abs(got.pos.OffsetMs-1600) > 1e-6 {
		t.Fatalf("expected offset 1600 ms, got %v", got.pos.OffsetMs)
	}

	out := got.View()
	if !strings.Contains(out, strings.ToUpper(got.pos.Phase.Name)) {
		t.Fatalf("view does not show the phase:\n%s", out)
	}
	if strings.Contains(out, "not playing") {
		t.Fatalf("view claims not playing:\n%s", out)
	}
}

func TestTUI_IdleView(t *testing.T) {
	view := fakePlaybackView{snap: engine.Snapshot{State: engine.StateIdle}}
	m := newTUIModel(view, make(chan Event, 1))

	next, _ := m.Update(frameMsg(time.Now()))
	got := next.(tuiModel)
	if got.pos.HasPhase {
		t.Fatalf("idle engine should have no phase")
	}
	if !strings.Contains(got.View(), "not playing") {
		t.Fatalf("expected idle view")
	}
}

func TestTUI_StateMsg(t *testing.T) {
	m := newTUIModel(nil, make(chan Event, 1))
	m.fetching = true

	next, _ := m.Update(stateMsg{snap: StateSnapshot{WaitSec: 2, Status: StatusIdle}})
	got := next.(tuiModel)
	if got.fetching || !got.haveState || got.state.WaitSec != 2 {
		t.Fatalf("state not applied: %+v", got)
	}
	if !strings.Contains(got.View(), "2.00s") {
		t.Fatalf("view does not show wait")
	}
}

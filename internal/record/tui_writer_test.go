package record

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p, every: 2}
	row := sampleRow("close", time.Unix(0, 0).UTC())
	_ = w.Write(row)
	if len(p.msgs) != 1 {
		t.Fatalf("first row should only update status, got %d msgs", len(p.msgs))
	}
	if _, ok := p.msgs[0].(safetyMsg); !ok {
		t.Fatalf("expected safetyMsg, got %T", p.msgs[0])
	}
	_ = w.Write(row)
	if _, ok := p.msgs[2].(logMsg); !ok {
		t.Fatalf("expected logMsg on second row, got %T", p.msgs[2])
	}
	_ = w.WriteLinkEvent(LinkEventRow{Event: LinkUp})
	if _, ok := p.msgs[3].(logMsg); !ok {
		t.Fatalf("expected logMsg for link event")
	}
	w.SetTeleop(func(float64, float64) {})
	if _, ok := p.msgs[4].(setTeleopMsg); !ok {
		t.Fatalf("expected setTeleopMsg")
	}
}

func TestWrapToggle(t *testing.T) {
	m := newTUIModel(NodeInfo{Node: "seg-1", Role: "head"})
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 20, Height: 20})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "one two three four five six"})
	m = mi.(tuiModel)
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	m = mi.(tuiModel)
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestTeleopKeys(t *testing.T) {
	var gotS, gotT float64
	calls := 0
	m := newTUIModel(NodeInfo{})
	// Without a callback arrow keys are ignored.
	mi, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = mi.(tuiModel)
	if m.steering != 0 {
		t.Fatalf("steering moved without teleop")
	}
	mi, _ = m.Update(setTeleopMsg{fn: func(s, th float64) { gotS, gotT = s, th; calls++ }})
	m = mi.(tuiModel)
	for _, k := range []tea.KeyType{tea.KeyRight, tea.KeyRight, tea.KeyUp} {
		mi, _ = m.Update(tea.KeyMsg{Type: k})
		m = mi.(tuiModel)
	}
	if calls != 3 || gotS != 0.2 || gotT != 0.1 {
		t.Fatalf("calls=%d steering=%v throttle=%v", calls, gotS, gotT)
	}
	for i := 0; i < 15; i++ {
		mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = mi.(tuiModel)
	}
	if gotT != -1 {
		t.Fatalf("throttle should clamp at -1, got %v", gotT)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeySpace})
	m = mi.(tuiModel)
	if gotS != 0 || gotT != 0 {
		t.Fatalf("space should return to neutral, got %v/%v", gotS, gotT)
	}
}

func TestStatusLine(t *testing.T) {
	m := newTUIModel(NodeInfo{})
	if !strings.Contains(m.renderStatus(), "waiting") {
		t.Fatalf("expected waiting status")
	}
	mi, _ := m.Update(safetyMsg{sampleRow("hold", time.Unix(0, 0))})
	m = mi.(tuiModel)
	s := m.renderStatus()
	if !strings.Contains(s, "HOLD") || !strings.Contains(s, "score=-3") {
		t.Fatalf("status = %q", s)
	}
}

func TestQuitKey(t *testing.T) {
	m := newTUIModel(NodeInfo{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}

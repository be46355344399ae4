package record

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// safetyMsg carries the latest controller cycle.
type safetyMsg struct{ SafetyRow }

// setTeleopMsg installs the operator input callback.
type setTeleopMsg struct{ fn func(steering, throttle float64) }

const (
	maxLogLines  = 500
	teleopStep   = 0.1
	headerHeight = 6
)

// NodeInfo is the static header of the console.
type NodeInfo struct {
	Node     string
	Role     string
	Segments int
	Healthy  int
	Degraded int
	Reboot   int
}

// TUIWriter renders controller cycles using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
	every      int
	count      int
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Only one
// in every `every` safety rows is logged; the status line sees all of them.
func NewTUIWriter(info NodeInfo, every int) *TUIWriter {
	if every < 1 {
		every = 1
	}
	w := &TUIWriter{done: make(chan struct{}), every: every}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(info), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements SafetyWriter.
func (w *TUIWriter) Write(row SafetyRow) error {
	w.program.Send(safetyMsg{row})
	w.count++
	if w.count%w.every == 0 {
		w.program.Send(logMsg{line: FormatSafety(row)})
	}
	return nil
}

// WriteLinkEvent implements LinkEventWriter.
func (w *TUIWriter) WriteLinkEvent(e LinkEventRow) error {
	w.program.Send(logMsg{line: FormatLinkEvent(e)})
	return nil
}

// SetTeleop routes arrow-key input to fn; used on the head segment.
func (w *TUIWriter) SetTeleop(fn func(steering, throttle float64)) {
	w.program.Send(setTeleopMsg{fn: fn})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	info       NodeInfo
	table      table.Model
	vp         viewport.Model
	logs       []string
	last       SafetyRow
	haveLast   bool
	wrap       bool
	autoscroll bool
	help       bool
	width      int
	height     int
	teleop     func(steering, throttle float64)
	steering   float64
	throttle   float64
}

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newTUIModel(info NodeInfo) tuiModel {
	cols := []table.Column{
		{Title: "Config", Width: 16},
		{Title: "Value", Width: 12},
		{Title: "Config", Width: 16},
		{Title: "Value", Width: 12},
	}
	rows := []table.Row{
		{"Node", info.Node, "Role", info.Role},
		{"Segments", fmt.Sprintf("%d", info.Segments), "Healthy <", fmt.Sprintf("%d", info.Healthy)},
		{"Degraded >", fmt.Sprintf("%d", info.Degraded), "Reboot >", fmt.Sprintf("%d", info.Reboot)},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	return tuiModel{
		info:       info,
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-headerHeight-4, 1)
		m.refreshViewport()
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case safetyMsg:
		m.last = msg.SafetyRow
		m.haveLast = true
	case setTeleopMsg:
		m.teleop = msg.fn
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "w":
		m.wrap = !m.wrap
		m.refreshViewport()
	case "a":
		m.autoscroll = !m.autoscroll
	case "?":
		m.help = !m.help
	case "left":
		m.steer(-teleopStep, 0)
	case "right":
		m.steer(teleopStep, 0)
	case "up":
		m.steer(0, teleopStep)
	case "down":
		m.steer(0, -teleopStep)
	case " ":
		m.steering, m.throttle = 0, 0
		m.steer(0, 0)
	default:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

// steer nudges the operator command and forwards it when teleop is enabled.
func (m *tuiModel) steer(ds, dt float64) {
	if m.teleop == nil {
		return
	}
	m.steering = clampUnit(m.steering + ds)
	m.throttle = clampUnit(m.throttle + dt)
	m.teleop(m.steering, m.throttle)
}

func clampUnit(v float64) float64 {
	return math.Round(math.Max(-1, math.Min(1, v))*100) / 100
}

func (m *tuiModel) refreshViewport() {
	lines := m.logs
	if m.wrap && m.vp.Width > 0 {
		wrapped := make([]string, len(lines))
		for i, l := range lines {
			wrapped[i] = wordwrap.String(l, m.vp.Width)
		}
		lines = wrapped
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := styleBorder.Render(strings.Repeat("─", max(m.width, 10)))
	return strings.Join([]string{
		m.table.View(),
		divider,
		m.renderStatus(),
		divider,
		m.vp.View(),
		divider,
		styleMuted.Render("q quit  w wrap  a autoscroll  ←→↑↓ teleop  space neutral  ? help"),
	}, "\n")
}

func (m tuiModel) renderStatus() string {
	if !m.haveLast {
		return styleMuted.Render("waiting for first control cycle")
	}
	r := m.last
	style := styleMuted
	switch r.Action {
	case "close":
		style = styleOK
	case "hold":
		style = styleWarn
	case "open", "reboot":
		style = styleBad
	}
	wd := make([]string, len(r.Watchdog))
	for i, t := range r.Watchdog {
		if t == 1 {
			wd[i] = styleOK.Render("●")
		} else {
			wd[i] = styleBad.Render("○")
		}
	}
	status := fmt.Sprintf("%s %s  score=%d  relay=%s  steer=%+.2f thr=%+.2f  chain %s",
		styleTitle.Render("STATUS"), style.Render(strings.ToUpper(r.Action)),
		r.Score, r.Relay, r.Steering, r.Throttle, strings.Join(wd, ""))
	if m.teleop != nil {
		status += fmt.Sprintf("  operator=(%+.2f,%+.2f)", m.steering, m.throttle)
	}
	return status
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		styleTitle.Render("segchain console"),
		"",
		"  ← →     steering (head segment only)",
		"  ↑ ↓     throttle (head segment only)",
		"  space   neutral",
		"  w       toggle line wrap",
		"  a       toggle autoscroll",
		"  q       quit",
		"  ?       close help",
	}
	return strings.Join(lines, "\n")
}

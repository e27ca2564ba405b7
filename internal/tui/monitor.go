// Package tui renders a live view of a refinement run with bubbletea.
//
// The controller runs on its own goroutine and reports through Bridge, which
// forwards every callback to the bubbletea program as a message. The Monitor
// model only ever reads state carried by those messages.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/covloop/internal/logbook"
	"github.com/kingrea/covloop/internal/refine"
)

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleRetry   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	boxStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

const journalLines = 6

type runStartedMsg struct{ info refine.RunInfo }

type phaseMsg struct{ state refine.RunState }

type iterationMsg struct{ result refine.IterationResult }

type runFinishedMsg struct {
	outcome refine.Outcome
	err     error
}

// Monitor is the bubbletea model for `covloop run --tui`.
type Monitor struct {
	info       refine.RunInfo
	state      refine.RunState
	iterations []refine.IterationResult
	coverage   float64
	known      bool

	spinner  spinner.Model
	progress progress.Model
	table    table.Model
	journal  *logbook.Logbook

	finished bool
	outcome  refine.Outcome
	err      error
	width    int
	cancel   func()
}

// NewMonitor builds the model. cancel is called when the user quits before
// the run ends; journal may be nil.
func NewMonitor(target float64, journal *logbook.Logbook, cancel func()) *Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyleRunning
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "Status", Width: 36},
			{Title: "Coverage", Width: 9},
			{Title: "Compile", Width: 8},
			{Title: "Rounds", Width: 7},
			{Title: "Sim", Width: 8},
		}),
		table.WithHeight(8),
	)
	if cancel == nil {
		cancel = func() {}
	}
	return &Monitor{
		info:     refine.RunInfo{Target: target},
		state:    refine.RunState{Phase: refine.PhaseAwaitingGeneration},
		spinner:  sp,
		progress: bar,
		table:    tbl,
		journal:  journal,
		cancel:   cancel,
	}
}

// Init starts the spinner.
func (m *Monitor) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update folds controller events and key presses into the model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.finished {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(20, min(60, msg.Width-20))
	case runStartedMsg:
		m.info = msg.info
	case phaseMsg:
		m.state = msg.state
	case iterationMsg:
		m.iterations = append(m.iterations, msg.result)
		if msg.result.CoverageKnown {
			m.coverage, m.known = msg.result.Coverage, true
		}
		m.table.SetRows(m.rows())
	case runFinishedMsg:
		m.finished = true
		m.outcome = msg.outcome
		m.err = msg.err
		m.state = msg.outcome.State
		return m, nil
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Monitor) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.iterations))
	for i := len(m.iterations) - 1; i >= 0; i-- {
		it := m.iterations[i]
		cov := "-"
		if it.CoverageKnown {
			cov = fmt.Sprintf("%.2f%%", it.Coverage)
		}
		sim := "ok"
		switch {
		case it.Status == refine.StatusInvalid:
			sim = "skipped"
		case it.SimTimedOut:
			sim = "timeout"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", it.Iteration),
			it.Status,
			cov,
			fmt.Sprintf("%d", it.CompileRetries),
			fmt.Sprintf("%d", it.CoverageRounds),
			sim,
		})
	}
	return rows
}

// View renders the run header, coverage bar, iteration table and journal.
func (m *Monitor) View() string {
	sections := []string{headerStyle.Render("⬡ COVLOOP")}

	var status string
	switch {
	case m.err != nil:
		status = labelStyleFailed.Render("failed: " + m.err.Error())
	case m.finished && m.state.Succeeded():
		status = labelStyleDone.Render("target reached")
	case m.finished && m.state.TimedOut():
		status = labelStyleRetry.Render("retry budget exhausted")
	default:
		status = m.spinner.View() + " " + phaseLabel(m.state.Phase)
	}
	runLine := fmt.Sprintf("Run %s · backend %s · DUT %s", orDash(m.info.RunID), orDash(m.info.Backend), orDash(m.info.DUT))
	counters := fmt.Sprintf("Iteration %d · compile retries %d · coverage rounds %d",
		m.state.Iteration, m.state.CompileRetries, m.state.CoverageRounds)

	covLine := "Coverage: unknown"
	ratio := 0.0
	if m.known {
		covLine = fmt.Sprintf("Coverage: %.2f%% (target %.2f%%)", m.coverage, m.info.Target)
		if m.info.Target > 0 {
			ratio = min(1, m.coverage/m.info.Target)
		}
	}

	sections = append(sections, boxStyle.Render(strings.Join([]string{
		status,
		detailTextStyle.Render(runLine),
		detailTextStyle.Render(counters),
		"",
		covLine,
		m.progress.ViewAs(ratio),
	}, "\n")))

	if len(m.iterations) > 0 {
		sections = append(sections, boxStyle.Render(m.table.View()))
	}
	if panel := m.renderJournal(); panel != "" {
		sections = append(sections, panel)
	}
	footer := "q to stop"
	if m.finished {
		footer = "q to exit"
		if m.outcome.RunDir != "" {
			footer = fmt.Sprintf("artifacts in %s · q to exit", m.outcome.RunDir)
		}
	}
	sections = append(sections, labelStyleIdle.Render(footer))
	return strings.Join(sections, "\n")
}

func (m *Monitor) renderJournal() string {
	if m.journal == nil {
		return ""
	}
	lines, _ := m.journal.Tail(journalLines)
	if len(lines) == 0 {
		return ""
	}
	head := labelStyleRunning.Render("LOG · " + filepath.Base(m.journal.Path()))
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(strings.Join(lines, "\n"))
	return boxStyle.Render(head + "\n" + body)
}

func phaseLabel(p refine.Phase) string {
	switch p {
	case refine.PhaseAwaitingGeneration:
		return labelStyleRunning.Render("waiting for the model")
	case refine.PhaseAwaitingSimulation:
		return labelStyleRunning.Render("simulating")
	case refine.PhaseEvaluating:
		return labelStyleRunning.Render("evaluating")
	case refine.PhaseContinue:
		return labelStyleRetry.Render("preparing feedback")
	default:
		return labelStyleIdle.Render(string(p))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Bridge forwards controller callbacks to a running program.
type Bridge struct {
	send func(tea.Msg)
}

// NewBridge wraps a message sender, normally (*tea.Program).Send.
func NewBridge(send func(tea.Msg)) *Bridge {
	return &Bridge{send: send}
}

// RunStarted implements refine.Observer.
func (b *Bridge) RunStarted(info refine.RunInfo) { b.send(runStartedMsg{info: info}) }

// PhaseChanged implements refine.Observer.
func (b *Bridge) PhaseChanged(state refine.RunState) { b.send(phaseMsg{state: state}) }

// IterationFinished implements refine.Observer.
func (b *Bridge) IterationFinished(result refine.IterationResult) {
	b.send(iterationMsg{result: result})
}

// RunFinished implements refine.Observer.
func (b *Bridge) RunFinished(outcome refine.Outcome, err error) {
	b.send(runFinishedMsg{outcome: outcome, err: err})
}

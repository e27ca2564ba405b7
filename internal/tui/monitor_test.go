package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/covloop/internal/logbook"
	"github.com/kingrea/covloop/internal/refine"
)

func feed(m *Monitor, msgs ...tea.Msg) *Monitor {
	for _, msg := range msgs {
		model, _ := m.Update(msg)
		m = model.(*Monitor)
	}
	return m
}

func TestMonitorTracksIterations(t *testing.T) {
	var sent []tea.Msg
	bridge := NewBridge(func(msg tea.Msg) { sent = append(sent, msg) })
	bridge.RunStarted(refine.RunInfo{RunID: "run-7", Backend: "ollama", DUT: "fsm", Target: 90})
	bridge.PhaseChanged(refine.RunState{Phase: refine.PhaseAwaitingSimulation, Iteration: 1})
	bridge.IterationFinished(refine.IterationResult{Iteration: 1, Status: refine.StatusShortfall, Compiled: true, Coverage: 45, CoverageKnown: true, CoverageRounds: 1})
	bridge.IterationFinished(refine.IterationResult{Iteration: 2, Status: refine.StatusCompileErrors, CompileRetries: 1, SimTimedOut: true})

	m := feed(NewMonitor(90, nil, nil), sent...)
	if m.info.RunID != "run-7" {
		t.Fatalf("run info not applied: %+v", m.info)
	}
	if !m.known || m.coverage != 45 {
		t.Fatalf("coverage should keep the last known value, got %v known=%v", m.coverage, m.known)
	}
	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "2" || rows[0][5] != "timeout" {
		t.Fatalf("newest iteration should be first: %v", rows[0])
	}
	view := m.View()
	for _, want := range []string{"run-7", "45.00%", "target 90.00%"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMonitorFinishStates(t *testing.T) {
	done := feed(NewMonitor(90, nil, nil), runFinishedMsg{outcome: refine.Outcome{State: refine.RunState{Phase: refine.PhaseSucceeded}, RunDir: "/tmp/run"}})
	if !strings.Contains(done.View(), "target reached") {
		t.Fatalf("expected success banner:\n%s", done.View())
	}
	failed := feed(NewMonitor(90, nil, nil), runFinishedMsg{err: errors.New("backend down")})
	if !strings.Contains(failed.View(), "backend down") {
		t.Fatalf("expected error banner:\n%s", failed.View())
	}
}

func TestMonitorQuitCancelsRun(t *testing.T) {
	cancelled := false
	m := NewMonitor(90, nil, func() { cancelled = true })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled {
		t.Fatalf("quitting mid-run should cancel the controller")
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestMonitorShowsJournalTail(t *testing.T) {
	book, err := logbook.New(filepath.Join(t.TempDir(), "journey.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Info("iteration 1: Target Achieved")
	m := NewMonitor(90, book, nil)
	if !strings.Contains(m.View(), "iteration 1: Target Achieved") {
		t.Fatalf("journal tail missing:\n%s", m.View())
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lowforge/internal/model"
	"lowforge/internal/workflow"
)

var (
	progressStateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressAcceptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	progressRejectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	progressPendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// startProgressView renders live workflow progress from the event
// channel until the returned stop function is called.
func startProgressView(events <-chan workflow.Event) func() {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := progressModel{
		spinner: sp,
		events:  events,
		runs:    make(map[string]*runLine),
	}
	p := tea.NewProgram(m)
	go func() { _, _ = p.Run() }()
	return func() {
		p.Quit()
		p.Wait()
	}
}

type progressEventMsg workflow.Event

// runLine is the display state of one request's run.
type runLine struct {
	state   workflow.State
	outcome string // set once the run finished or failed
	failed  bool
}

type progressModel struct {
	spinner spinner.Model
	events  <-chan workflow.Event
	order   []string
	runs    map[string]*runLine
}

// waitForEvent blocks on the next progress event. The channel is never
// closed, so the final pending receive is released only at process exit.
func waitForEvent(events <-chan workflow.Event) tea.Cmd {
	return func() tea.Msg {
		return progressEventMsg(<-events)
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressEventMsg:
		m.apply(workflow.Event(msg))
		return m, waitForEvent(m.events)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// The view exits; the workflow keeps running and is
			// cancelled by the process signal handler instead.
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *progressModel) apply(ev workflow.Event) {
	line, ok := m.runs[ev.RequestID]
	if !ok {
		line = &runLine{}
		m.runs[ev.RequestID] = line
		m.order = append(m.order, ev.RequestID)
	}

	switch ev.Type {
	case workflow.EventRunStarted, workflow.EventTransition:
		line.state = ev.State
	case workflow.EventDecision:
		line.state = ev.State
		line.outcome = ""
	case workflow.EventRunFinished:
		line.outcome = ev.Message
	case workflow.EventRunFailed:
		line.outcome = ev.Message
		line.failed = true
	}
}

func (m progressModel) View() string {
	var b strings.Builder
	for _, id := range m.order {
		line := m.runs[id]
		switch {
		case line.failed:
			fmt.Fprintf(&b, "  %s %s %s\n", progressRejectedStyle.Render("✗"), id,
				progressStateStyle.Render(line.outcome))
		case line.outcome != "":
			fmt.Fprintf(&b, "  %s %s\n", decisionGlyph(line.outcome), id)
		default:
			fmt.Fprintf(&b, "  %s %s %s\n", m.spinner.View(), id,
				progressStateStyle.Render(string(line.state)))
		}
	}
	return b.String()
}

// decisionGlyph styles a finished run's decision.
func decisionGlyph(decision string) string {
	switch model.RewardDecision(decision) {
	case model.DecisionAccepted:
		return progressAcceptedStyle.Render("✓ accepted")
	case model.DecisionRejected:
		return progressRejectedStyle.Render("✗ rejected")
	default:
		return progressPendingStyle.Render("… " + decision)
	}
}

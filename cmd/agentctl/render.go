package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sumire/agentdesk/internal/domain"
)

var (
	primaryColor   = lipgloss.Color("#5FAFAF")
	secondaryColor = lipgloss.Color("#666666")
	successColor   = lipgloss.Color("#87AF87")
	errorColor     = lipgloss.Color("#AF5F5F")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	questionStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
)

func stepMarker(s domain.StepStatus) string {
	switch s {
	case domain.StepStatusDone:
		return successStyle.Render("[x]")
	case domain.StepStatusFailed:
		return errorStyle.Render("[!]")
	case domain.StepStatusInProgress:
		return activeStyle.Render("[>]")
	case domain.StepStatusSkipped:
		return subtleStyle.Render("[-]")
	default:
		return subtleStyle.Render("[ ]")
	}
}

func renderSteps(w io.Writer, steps []domain.Step) {
	for _, s := range steps {
		line := fmt.Sprintf("%s %d. %s", stepMarker(s.Status), s.Index, s.Description)
		if s.Note != nil && *s.Note != "" {
			line += subtleStyle.Render("  (" + *s.Note + ")")
		}
		fmt.Fprintln(w, line)
	}
}

func renderProgress(w io.Writer, p *domain.Progress) {
	done := 0
	for _, s := range p.Steps {
		if s.Status.IsTerminal() {
			done++
		}
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Task #%d  %d/%d steps finished", p.TaskID, done, len(p.Steps))))

	if len(p.Steps) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("no plan yet"))
	}
	renderSteps(w, p.Steps)

	if q := p.CurrentQuestion; q != nil {
		body := "? " + q.Question
		if len(q.Choices) > 0 {
			body += "\n  choices: " + strings.Join(q.Choices, ", ")
		}
		fmt.Fprintln(w, questionStyle.Render(body))
	}
}

package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/vburojevic/simpool/internal/domain"
)

// Styles holds all lipgloss styles for text output
var Styles = struct {
	// Simulator state styles
	Shutdown     lipgloss.Style
	Transition   lipgloss.Style
	Booted       lipgloss.Style
	UnknownState lipgloss.Style

	// Component styles
	Timestamp lipgloss.Style
	UDID      lipgloss.Style
	Stderr    lipgloss.Style

	// Summary styles
	Header  lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Danger  lipgloss.Style
}{
	// States
	Shutdown:     lipgloss.NewStyle().Foreground(lipgloss.Color("243")),            // Gray
	Transition:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),            // Orange
	Booted:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),  // Green bold
	UnknownState: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true), // Red bold

	// Components
	Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("244")), // Gray
	UDID:      lipgloss.NewStyle().Foreground(lipgloss.Color("33")),  // Blue
	Stderr:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red

	// Summary
	Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("239")),
	Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	Value:   lipgloss.NewStyle().Bold(true),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),  // Green
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true), // Orange
	Danger:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true), // Red
}

// StateStyle returns the appropriate style for a simulator state
func StateStyle(state domain.State) lipgloss.Style {
	switch state {
	case domain.StateShutdown:
		return Styles.Shutdown
	case domain.StateCreating, domain.StateBooting, domain.StateShuttingDown:
		return Styles.Transition
	case domain.StateBooted:
		return Styles.Booted
	default:
		return Styles.UnknownState
	}
}

// StateText returns the styled state name
func StateText(state domain.State) string {
	return StateStyle(state).Render(state.String())
}

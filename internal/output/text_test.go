package output

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/simpool/internal/domain"
)

func TestTextWriter_WriteSimulators(t *testing.T) {
	t.Run("renders a row per simulator", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewTextWriter(&buf)

		err := w.WriteSimulators([]SimulatorOutput{
			{UDID: "AAAA-1111", Name: "iPhone 15", State: "Booted", Runtime: "iOS 17.0", Allocated: true, Options: []string{"reuse"}},
			{UDID: "BBBB-2222", Name: "iPhone 11", State: "Shutdown", Runtime: "iOS 13.0"},
		})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "AAAA-1111")
		assert.Contains(t, out, "BBBB-2222")
		assert.Contains(t, out, "Booted")
		assert.Contains(t, out, "reuse")
	})

	t.Run("empty pool", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewTextWriter(&buf).WriteSimulators(nil))
		assert.Equal(t, "No simulators found\n", buf.String())
	})
}

func TestTextWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	summary := domain.NewPoolSummary()
	summary.Total = 2
	summary.Allocated = 1
	summary.States[domain.StateBooted] = 2

	require.NoError(t, NewTextWriter(&buf).WriteSummary(summary))
	out := buf.String()
	assert.Contains(t, out, "Total: ")
	assert.Contains(t, out, "Booted: 2")
}

func TestStateStyle(t *testing.T) {
	tests := []struct {
		state domain.State
		want  lipgloss.TerminalColor
	}{
		{domain.StateBooted, lipgloss.Color("42")},
		{domain.StateBooting, lipgloss.Color("214")},
		{domain.StateShuttingDown, lipgloss.Color("214")},
		{domain.StateShutdown, lipgloss.Color("243")},
		{domain.StateUnknown, lipgloss.Color("196")},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StateStyle(tt.state).GetForeground())
		})
	}
}

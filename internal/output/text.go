package output

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/vburojevic/simpool/internal/domain"
)

// TextWriter renders pool output for humans
type TextWriter struct {
	w io.Writer
}

// NewTextWriter creates a new text writer
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// WriteSimulators renders simulators as a table
func (w *TextWriter) WriteSimulators(sims []SimulatorOutput) error {
	if len(sims) == 0 {
		_, err := fmt.Fprintln(w.w, "No simulators found")
		return err
	}

	table := tablewriter.NewWriter(w.w)
	table.Header("NAME", "STATE", "RUNTIME", "UDID", "ALLOCATED")
	for _, s := range sims {
		allocated := ""
		if s.Allocated {
			allocated = strings.Join(s.Options, ",")
			if allocated == "" {
				allocated = "yes"
			}
		}
		row := []string{s.Name, StateText(domain.State(s.State)), s.Runtime, s.UDID, allocated}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// WriteSnapshots renders a history chain as a table, oldest first
func (w *TextWriter) WriteSnapshots(snaps []SnapshotOutput) error {
	table := tablewriter.NewWriter(w.w)
	table.Header("#", "TIMESTAMP", "STATE", "LAUNCHED", "DIAGNOSTICS")
	for _, s := range snaps {
		names := make([]string, 0, len(s.Launched))
		for _, p := range s.Launched {
			names = append(names, p.String())
		}
		ts := s.Timestamp
		if ts == "" {
			ts = "-"
		}
		row := []string{
			strconv.Itoa(s.Index),
			Styles.Timestamp.Render(ts),
			StateText(domain.State(s.State)),
			strings.Join(names, ", "),
			strings.Join(s.Diagnostics, ", "),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// WriteSummary outputs a styled pool summary
func (w *TextWriter) WriteSummary(summary *domain.PoolSummary) error {
	header := Styles.Header.Render("Pool")
	line := "\n" + header + "\n"
	line += Styles.Label.Render("Total: ") + Styles.Value.Render(strconv.Itoa(summary.Total)) + " | "
	line += Styles.Label.Render("Allocated: ") + Styles.Value.Render(strconv.Itoa(summary.Allocated)) + " | "
	line += Styles.Label.Render("Launched: ") + Styles.Value.Render(strconv.Itoa(summary.Launched)) + "\n"

	states := make([]domain.State, 0, len(summary.States))
	for s := range summary.States {
		states = append(states, s)
	}
	slices.Sort(states)
	for _, s := range states {
		line += "  " + StateText(s) + ": " + strconv.Itoa(summary.States[s]) + "\n"
	}

	_, err := io.WriteString(w.w, line)
	return err
}

// WriteConsole outputs one line of command output
func (w *TextWriter) WriteConsole(stream, message string) error {
	if stream == "stderr" {
		message = Styles.Stderr.Render(message)
	}
	_, err := io.WriteString(w.w, message+"\n")
	return err
}

// WriteError outputs a styled error
func (w *TextWriter) WriteError(code, message string) error {
	errorLabel := Styles.Danger.Render("Error")
	codeStr := Styles.Warning.Render("[" + code + "]")
	line := errorLabel + " " + codeStr + ": " + message + "\n"
	_, err := io.WriteString(w.w, line)
	return err
}

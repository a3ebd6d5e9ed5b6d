// Package tui shows audit progress as a live terminal view.
package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"predeploy/internal/progress"
)

type Options struct {
	Events <-chan progress.Event
	// Output receives the view. Nil selects stdout.
	Output io.Writer
}

// Run blocks until the events channel closes or the run finishes.
func Run(opts Options) error {
	if opts.Events == nil {
		return fmt.Errorf("tui events channel is required")
	}

	m := newModel(opts.Events)
	progOpts := []tea.ProgramOption{tea.WithAltScreen()}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	p := tea.NewProgram(m, progOpts...)
	_, err := p.Run()
	return err
}

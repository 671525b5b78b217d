package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/tui"
)

func addMonitorCommand(parent *cobra.Command) {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Interactively watch and manage running frameservers",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	}
	parent.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(tui.NewMonitorScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

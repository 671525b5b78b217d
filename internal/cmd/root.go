// Package cmd builds the shmifctl CLI surface, adapted from the teacher's
// internal/cmd (spf13/cobra, persistent --json/--quiet/--verbose flags,
// SilenceUsage/SilenceErrors) and retargeted from Deephaven-server
// lifecycle management to SHMIF connection-point/frameserver lifecycle
// management (SPEC_FULL §1).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/config"
	"github.com/arcanshmif/shmifgo/internal/output"
)

// Version is set by the build (ldflags -X), mirroring the teacher's pattern.
var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool
	ConfigDir   string
)

// NewRootCmd assembles the shmifctl command tree.
func NewRootCmd() *cobra.Command {
	root := newRootCmd()
	addConnpointCommand(root)
	addSpawnCommand(root)
	addBrokerCommand(root)
	addDoctorCommand(root)
	addMonitorCommand(root)
	addCatalogCommand(root)
	addConfigCommands(root)
	return root
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "shmifctl",
		Short:         "Manage SHMIF connection points and frameservers",
		Long:          "shmifctl — host-side tool for serving connection points, spawning frameservers, and supervising the device broker.",
		Version:       fmt.Sprintf("shmifctl v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(ConfigDir)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.BoolVar(&noColorFlag, "no-color", false, "Disable ANSI colors")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Override config directory (default: ~/.shmif)")

	if v := os.Getenv("SHMIF_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}
	if os.Getenv("NO_COLOR") != "" {
		noColorFlag = true
	}
	if os.Getenv("SHMIF_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

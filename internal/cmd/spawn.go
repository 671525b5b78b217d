package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/catalog"
	"github.com/arcanshmif/shmifgo/internal/config"
	"github.com/arcanshmif/shmifgo/internal/output"
	"github.com/arcanshmif/shmifgo/internal/shmifparent"
)

var (
	spawnWidthFlag        uint32
	spawnHeightFlag       uint32
	spawnChannelsFlag     uint32
	spawnAudioSamplesFlag uint32
	spawnRingCapacityFlag uint32
)

func addSpawnCommand(parent *cobra.Command) {
	spawnCmd := &cobra.Command{
		Use:   "spawn <archetype-or-path> [args...]",
		Short: "Spawn a frameserver and own its segment directly",
		Long:  "Fork/exec a frameserver binary (resolved by archetype against the binary catalog, or taken as a literal path), hand it a freshly allocated segment over an inherited descriptor, and supervise it until it exits or is killed.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSpawn,
	}
	flags := spawnCmd.Flags()
	flags.Uint32Var(&spawnWidthFlag, "width", 640, "Initial video width")
	flags.Uint32Var(&spawnHeightFlag, "height", 480, "Initial video height")
	flags.Uint32Var(&spawnChannelsFlag, "channels", 2, "Audio channel count")
	flags.Uint32Var(&spawnAudioSamplesFlag, "audio-samples", 4096, "Audio buffer capacity, in samples")
	flags.Uint32Var(&spawnRingCapacityFlag, "ring-capacity", 64, "Event ring capacity, in records")
	parent.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	binPath, err := resolveSpawnTarget(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := shmifparent.Spawn(ctx, binPath, args[1:], spawnWidthFlag, spawnHeightFlag, spawnChannelsFlag, spawnAudioSamplesFlag, spawnRingCapacityFlag)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	if output.IsJSON() {
		if err := output.PrintJSON(cmd.OutOrStdout(), map[string]any{"path": binPath, "width": spawnWidthFlag, "height": spawnHeightFlag}); err != nil {
			return err
		}
	} else if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "spawned %s (%dx%d)\n", binPath, spawnWidthFlag, spawnHeightFlag)
	}

	resizeCtx, resizeCancel := context.WithCancel(ctx)
	defer resizeCancel()
	go s.ServiceResize(resizeCtx)

	<-ctx.Done()
	return s.Kill()
}

// resolveSpawnTarget accepts either a literal executable path (containing a
// path separator) or an archetype name to resolve against the installed
// binary catalog, mirroring the teacher's versions-name-to-install-path
// resolution for its own exec subcommand.
func resolveSpawnTarget(arg string) (string, error) {
	if filepath.IsAbs(arg) || filepath.Dir(arg) != "." {
		return arg, nil
	}
	cat, err := catalog.Load(config.Home())
	if err != nil {
		return "", fmt.Errorf("spawn: loading catalog: %w", err)
	}
	if path, ok := cat.Resolve(arg); ok {
		return path, nil
	}
	return arg, nil // fall through to exec.LookPath's own PATH search
}

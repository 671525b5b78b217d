package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/config"
	"github.com/arcanshmif/shmifgo/internal/connpoint"
	"github.com/arcanshmif/shmifgo/internal/logging"
	"github.com/arcanshmif/shmifgo/internal/output"
	"github.com/arcanshmif/shmifgo/internal/segment"
)

var (
	cpKeyFlag          string
	cpWidthFlag        uint32
	cpHeightFlag       uint32
	cpChannelsFlag     uint32
	cpAudioSamplesFlag uint32
	cpRingCapacityFlag uint32
)

func addConnpointCommand(parent *cobra.Command) {
	cpCmd := &cobra.Command{
		Use:   "connpoint [name]",
		Short: "Serve a non-authoritative connection point",
		Long:  "Listen on a UNIX domain socket, run every incoming connection through the preshared-key handshake, and hand each accepted client a freshly allocated segment.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConnpoint,
	}
	flags := cpCmd.Flags()
	flags.StringVar(&cpKeyFlag, "key", "", "Preshared key clients must present (generated and printed if omitted)")
	flags.Uint32Var(&cpWidthFlag, "width", 640, "Initial video width")
	flags.Uint32Var(&cpHeightFlag, "height", 480, "Initial video height")
	flags.Uint32Var(&cpChannelsFlag, "channels", 2, "Audio channel count")
	flags.Uint32Var(&cpAudioSamplesFlag, "audio-samples", 4096, "Audio buffer capacity, in samples")
	flags.Uint32Var(&cpRingCapacityFlag, "ring-capacity", 64, "Event ring capacity, in records")
	parent.AddCommand(cpCmd)
}

func runConnpoint(cmd *cobra.Command, args []string) error {
	key := cpKeyFlag
	generated := false
	if key == "" {
		key = segment.GenerateKey()
		generated = true
	}

	var flagName string
	if len(args) > 0 {
		flagName = args[0]
	}
	name, err := config.ResolveConnpointName(flagName, os.Getenv("SHMIF_CONNPOINT"))
	if err != nil {
		return fmt.Errorf("connpoint: resolve name: %w", err)
	}

	log := logging.New(cmd.ErrOrStderr(), logging.ParseLevel(verboseLevel()))
	ln, err := connpoint.Listen(name, key, cpWidthFlag, cpHeightFlag, cpChannelsFlag, cpAudioSamplesFlag, cpRingCapacityFlag)
	if err != nil {
		return fmt.Errorf("connpoint: %w", err)
	}
	defer ln.Close()

	if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())
		if generated {
			fmt.Fprintf(cmd.OutOrStdout(), "key: %s\n", key)
		}
	}
	log.Info().Str("socket", name).Msg("connection point listening")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ln.Serve(ctx, func(epCtx context.Context, ep *connpoint.Endpoint) {
		defer ep.Close()
		log.Info().Msg("client connected")
		for {
			rec, err := ep.PollEvent(epCtx)
			if err != nil {
				log.Info().Err(err).Msg("client disconnected")
				return
			}
			log.Debug().Str("category", rec.Category.String()).Msg("event received")
		}
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func verboseLevel() string {
	if output.IsVerbose() {
		return "debug"
	}
	return "info"
}

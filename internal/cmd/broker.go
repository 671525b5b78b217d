package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"

	"github.com/arcanshmif/shmifgo/internal/broker"
	"github.com/arcanshmif/shmifgo/internal/logging"
	"github.com/arcanshmif/shmifgo/internal/output"
)

var brokerWatchHotplugFlag bool

func addBrokerCommand(parent *cobra.Command) {
	brokerCmd := &cobra.Command{
		Use:   "broker <socket-path>",
		Short: "Run the privilege-separated device broker",
		Long:  "Listen for device-open requests, validate each requested path against the whitelist, and pass back an opened descriptor over the socket — intended to run with elevated privileges the rest of the system doesn't carry.",
		Args:  cobra.ExactArgs(1),
		RunE:  runBroker,
	}
	brokerCmd.Flags().BoolVar(&brokerWatchHotplugFlag, "watch-hotplug", false, "Log link state changes as a stand-in for device hotplug events")
	parent.AddCommand(brokerCmd)
}

func runBroker(cmd *cobra.Command, args []string) error {
	log := logging.New(cmd.ErrOrStderr(), logging.ParseLevel(verboseLevel()))

	b, err := broker.Listen(args[0], broker.DefaultWhitelist)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer b.Close()

	if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "device broker listening on %s\n", args[0])
	}
	log.Info().Str("socket", args[0]).Msg("device broker listening")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if brokerWatchHotplugFlag {
		go func() {
			err := broker.WatchHotplug(ctx, func(u netlink.LinkUpdate) {
				log.Debug().Str("link", u.Link.Attrs().Name).Msg("link state changed")
			})
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("hotplug watch stopped")
			}
		}()
	}

	err = b.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

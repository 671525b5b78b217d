package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/catalog"
	"github.com/arcanshmif/shmifgo/internal/config"
	"github.com/arcanshmif/shmifgo/internal/output"
)

func addCatalogCommand(parent *cobra.Command) {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the installed frameserver binary catalog",
	}
	catalogCmd.AddCommand(newCatalogScanCmd())
	catalogCmd.AddCommand(newCatalogListCmd())
	catalogCmd.AddCommand(newCatalogWatchCmd())
	parent.AddCommand(catalogCmd)
}

func newCatalogScanCmd() *cobra.Command {
	var binDir string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rescan the binary directory and rewrite catalog.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := binDirOrDefault(binDir)
			c, err := catalog.Scan(dir)
			if err != nil {
				return fmt.Errorf("catalog scan: %w", err)
			}
			if err := c.Save(config.Home()); err != nil {
				return fmt.Errorf("catalog scan: saving: %w", err)
			}
			return printCatalog(cmd, c)
		},
	}
	cmd.Flags().StringVar(&binDir, "bin-dir", "", "Directory of frameserver binaries (default: config home/bin)")
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cataloged frameserver binaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.Load(config.Home())
			if err != nil {
				return fmt.Errorf("catalog list: %w", err)
			}
			return printCatalog(cmd, c)
		},
	}
}

func newCatalogWatchCmd() *cobra.Command {
	var binDir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the binary directory and re-save the catalog on change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := binDirOrDefault(binDir)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCatalogWatch(ctx, cmd, dir)
		},
	}
	cmd.Flags().StringVar(&binDir, "bin-dir", "", "Directory of frameserver binaries (default: config home/bin)")
	return cmd
}

func runCatalogWatch(ctx context.Context, cmd *cobra.Command, dir string) error {
	err := catalog.Watch(ctx, dir, func(c *catalog.Catalog) {
		if err := c.Save(config.Home()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "catalog watch: saving: %v\n", err)
			return
		}
		if !output.IsQuiet() {
			fmt.Fprintf(cmd.OutOrStdout(), "catalog updated: %d entries\n", len(c.Entries))
		}
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func printCatalog(cmd *cobra.Command, c *catalog.Catalog) error {
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), c.Entries)
	}
	if output.IsQuiet() {
		return nil
	}
	for archetype, entry := range c.Entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", archetype, entry.Path)
	}
	return nil
}

func binDirOrDefault(dir string) string {
	if dir != "" {
		return dir
	}
	return config.Home() + "/bin"
}

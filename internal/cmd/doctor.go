package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcanshmif/shmifgo/internal/catalog"
	"github.com/arcanshmif/shmifgo/internal/config"
	"github.com/arcanshmif/shmifgo/internal/output"
	"github.com/arcanshmif/shmifgo/internal/procscan"
)

func addDoctorCommand(parent *cobra.Command) {
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment health",
		Long:  "Run diagnostic checks across the config directory, the binary catalog, and currently running frameservers.",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	parent.AddCommand(doctorCmd)
}

// CheckResult holds the result of a single doctor check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warning", "error"
	Detail string `json:"detail"`
}

// DoctorReport holds the complete doctor output.
type DoctorReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Testable check functions — replaceable in unit tests.
var (
	ConfigDirChecker   = checkConfigDir
	CatalogChecker     = checkCatalog
	FrameserverChecker = checkRunningFrameservers
)

func runDoctor(cmd *cobra.Command, args []string) error {
	home := config.Home()

	checks := []CheckResult{
		ConfigDirChecker(home),
		CatalogChecker(home),
		FrameserverChecker(),
	}

	healthy := true
	for _, c := range checks {
		if c.Status == "error" {
			healthy = false
			break
		}
	}

	report := DoctorReport{Healthy: healthy, Checks: checks}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), report)
	}

	if output.IsQuiet() && healthy {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "shmifctl doctor")
	fmt.Fprintln(cmd.OutOrStdout())

	var warnings, errors int
	for _, c := range checks {
		symbol := "✓"
		switch c.Status {
		case "warning":
			symbol = "⚠"
			warnings++
		case "error":
			symbol = "✗"
			errors++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %-20s %s\n", symbol, c.Name, c.Detail)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	if errors > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d error(s), %d warning(s)\n", errors, warnings)
	} else if warnings > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d warning(s)\n", warnings)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "all checks passed")
	}

	return nil
}

func checkConfigDir(home string) CheckResult {
	if _, err := os.Stat(home); err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "config-dir", Status: "warning", Detail: fmt.Sprintf("%s does not exist yet (will be created on first use)", home)}
		}
		return CheckResult{Name: "config-dir", Status: "error", Detail: err.Error()}
	}
	return CheckResult{Name: "config-dir", Status: "ok", Detail: home}
}

func checkCatalog(home string) CheckResult {
	c, err := catalog.Load(home)
	if err != nil {
		return CheckResult{Name: "catalog", Status: "error", Detail: err.Error()}
	}
	if len(c.Entries) == 0 {
		return CheckResult{Name: "catalog", Status: "warning", Detail: "no frameserver binaries cataloged — run 'shmifctl catalog scan'"}
	}
	return CheckResult{Name: "catalog", Status: "ok", Detail: fmt.Sprintf("%d archetype(s) cataloged", len(c.Entries))}
}

func checkRunningFrameservers() CheckResult {
	servers, err := procscan.Discover()
	if err != nil {
		return CheckResult{Name: "frameservers", Status: "error", Detail: err.Error()}
	}
	return CheckResult{Name: "frameservers", Status: "ok", Detail: fmt.Sprintf("%d running", len(servers))}
}

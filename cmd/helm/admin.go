package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/orchestrator"
	"github.com/hivematrix/helm/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the platform root for first boot",
	Long: `Create the directory skeleton and master config, build the service
catalog, provision PostgreSQL databases for services that declare one,
generate the core JWT keypair and, when the identity provider is
reachable, run its first bootstrap. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Regenerate every service's .env and instance config",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Helm version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	report, err := orchestrator.Init(cmd.Context(), rt, log.Logger)
	if err != nil {
		return err
	}

	fmt.Printf("Platform root: %s\n", report.Root)
	if report.ConfigCreated {
		fmt.Println("✓ master config created")
	} else {
		fmt.Println("✓ master config present")
	}
	if report.CatalogReady {
		fmt.Println("✓ service catalog built")
	}
	if report.KeypairCreated {
		fmt.Println("✓ JWT keypair generated for core")
	}
	if report.IDPBootstrapped {
		fmt.Println("✓ identity provider bootstrapped")
	}

	if len(report.Databases) > 0 {
		names := make([]string, 0, len(report.Databases))
		for name := range report.Databases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prov := report.Databases[name]
			fmt.Printf("✓ database %s ready for %s (user %s)\n", prov.DBName, name, prov.DBUser)
		}
	}
	if len(report.ServicesSynced) > 0 {
		fmt.Printf("✓ synthesized config for %s\n", strings.Join(report.ServicesSynced, ", "))
	}
	for _, warning := range report.Warnings {
		fmt.Printf("! %s\n", warning)
	}
	return syncFailureError(report.SyncFailures)
}

func runSync(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	report, err := orchestrator.Sync(rt, log.Logger)
	if err != nil {
		return err
	}
	fmt.Printf("✓ synthesized config for %d services\n", len(report.Synced))
	return syncFailureError(report.Failed)
}

// syncFailureError folds per-service synthesis failures into one error
// naming every failed service, or nil when all succeeded.
func syncFailureError(failed map[string]string) error {
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, failed[name])
	}
	return fmt.Errorf("config synthesis failed for %d services (%s): %w",
		len(failed), strings.Join(parts, "; "), types.ErrInvalidInput)
}

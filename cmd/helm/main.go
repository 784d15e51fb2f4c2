package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivematrix/helm/pkg/client"
	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/orchestrator"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helm",
	Short: "Helm - HiveMatrix platform orchestrator",
	Long: `Helm manages every service of a HiveMatrix host: the catalog,
process lifecycle, synthesized configuration, identity-provider
bootstrap, health monitoring and the centralized log store.

Commands operate on the local platform root by default. Pass --server
(or set HELM_SERVER) to drive a running orchestrator over its control
API instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:  log.LevelFromEnv(os.Getenv("LOG_LEVEL")),
			Output: os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Helm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("root", os.Getenv("HELM_ROOT"), "Platform root directory (default: working directory)")
	rootCmd.PersistentFlags().String("server", os.Getenv("HELM_SERVER"), "Control API base URL for remote operation")
	rootCmd.PersistentFlags().String("token", os.Getenv("HELM_TOKEN"), "Bearer token for remote operation")
}

// loadRuntime resolves the runtime knobs for a command: helm.yaml under
// the chosen root, then environment overrides, then the --root flag.
func loadRuntime(cmd *cobra.Command) (*orchestrator.Runtime, error) {
	root, _ := cmd.Flags().GetString("root")

	candidate := "helm.yaml"
	if root != "" {
		candidate = root + "/helm.yaml"
	}
	rt, err := orchestrator.LoadRuntime(candidate)
	if err != nil {
		return nil, err
	}
	rt.ApplyEnv()
	if root != "" {
		rt.Root = root
	}
	return rt, nil
}

// remoteClient returns a control API client when --server was given,
// or nil for local operation.
func remoteClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		return nil
	}
	token, _ := cmd.Flags().GetString("token")
	return client.NewClientWithToken(server, token)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hivematrix/helm/pkg/appconfig"
	"github.com/hivematrix/helm/pkg/config"
	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/monitor"
	"github.com/hivematrix/helm/pkg/orchestrator"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/registry"
	"github.com/hivematrix/helm/pkg/supervisor"
	"github.com/hivematrix/helm/pkg/types"
)

var startCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Start a service (or all with --all)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Stop a service (or all with --all)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status, health, pid and port for every service",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the service catalog",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	startCmd.Flags().String("mode", "", "Run mode: development or production")
	startCmd.Flags().Bool("all", false, "Start every catalog service in install order")
	stopCmd.Flags().Bool("all", false, "Stop every running service in reverse install order")
	restartCmd.Flags().String("mode", "", "Run mode: development or production")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

// localSession wires the subsystems lifecycle commands need when no
// orchestrator is running: catalog, supervisor with orphan adoption,
// and a monitor for one-shot status sweeps.
type localSession struct {
	layout *paths.Layout
	store  *config.Store
	reg    *registry.Registry
	synth  *appconfig.Synthesizer
	sup    *supervisor.Supervisor
	mon    *monitor.Monitor
}

func openLocal(rt *orchestrator.Runtime) (*localSession, error) {
	layout, err := paths.NewLayout(rt.Root)
	if err != nil {
		return nil, err
	}
	if err := layout.EnsureAll(); err != nil {
		return nil, err
	}

	s := &localSession{
		layout: layout,
		store:  config.NewStore(layout.MasterConfigPath()),
		reg:    registry.NewRegistry(layout),
		synth:  appconfig.NewSynthesizer(),
	}
	if _, err := s.store.Load(); err != nil {
		return nil, err
	}
	if err := s.reg.Reconcile(); err != nil {
		return nil, err
	}

	s.sup = supervisor.New(supervisor.Config{
		Layout:   layout,
		Catalog:  s.reg,
		Preparer: s,
		Logger:   log.Logger,
		ExtraEnv: s.extraEnv,
	})
	s.sup.AdoptAll()

	s.mon = monitor.New(monitor.Config{
		Catalog: s.reg,
		Records: s.sup,
		Logger:  log.Logger,
	})
	return s, nil
}

// PrepareService regenerates a service's synthesized files before it
// launches, same as the running orchestrator does.
func (s *localSession) PrepareService(name string) error {
	entry, err := s.reg.Get(name)
	if err != nil {
		return err
	}
	return s.synth.WriteService(s.store.Current(), entry, s.reg.Thin())
}

func (s *localSession) extraEnv(entry types.ServiceEntry, _ types.RunMode) []string {
	if entry.ProcessKind != types.ProcessKindExternalJava {
		return nil
	}
	idp := s.store.Current().IdentityProvider
	return []string{
		"KEYCLOAK_ADMIN=" + idp.AdminUsername,
		"KEYCLOAK_ADMIN_PASSWORD=" + idp.AdminPassword,
	}
}

// resolveMode applies the dev_mode default when no explicit mode was
// requested.
func resolveMode(cmd *cobra.Command, rt *orchestrator.Runtime) (types.RunMode, error) {
	raw, _ := cmd.Flags().GetString("mode")
	if raw == "" && rt.DevMode {
		return types.RunModeDevelopment, nil
	}
	mode, err := types.ParseRunMode(raw)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, types.ErrInvalidInput)
	}
	return mode, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	mode, err := resolveMode(cmd, rt)
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("service name or --all required: %w", types.ErrInvalidInput)
	}

	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		if all {
			return fmt.Errorf("--all is a local operation; drive individual services over the API: %w", types.ErrInvalidInput)
		}
		st, err := c.Start(args[0], mode)
		if errors.Is(err, types.ErrAlreadyRunning) {
			fmt.Printf("%s is already running\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s started (pid %d, port %d)\n", st.ServiceName, st.PID, st.Port)
		return nil
	}

	sess, err := openLocal(rt)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if all {
		started, err := sess.sup.StartAll(ctx, mode)
		fmt.Printf("✓ started %d services\n", started)
		return err
	}

	name := args[0]
	if _, err := sess.reg.Get(name); err != nil {
		return err
	}
	if err := sess.sup.Start(ctx, name, mode); err != nil {
		if errors.Is(err, types.ErrAlreadyRunning) {
			fmt.Printf("%s is already running\n", name)
			return nil
		}
		return err
	}
	rec := sess.sup.Record(name)
	fmt.Printf("✓ %s started (pid %d, mode %s)\n", name, rec.PID, rec.Mode)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("service name or --all required: %w", types.ErrInvalidInput)
	}

	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		if all {
			return fmt.Errorf("--all is a local operation; drive individual services over the API: %w", types.ErrInvalidInput)
		}
		if _, err := c.Stop(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s stopped\n", args[0])
		return nil
	}

	sess, err := openLocal(rt)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if all {
		stopped, err := sess.sup.StopAll(ctx)
		fmt.Printf("✓ stopped %d services\n", stopped)
		return err
	}

	name := args[0]
	if _, err := sess.reg.Get(name); err != nil {
		return err
	}
	if err := sess.sup.Stop(ctx, name); err != nil {
		return err
	}
	fmt.Printf("✓ %s stopped\n", name)
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	mode, err := resolveMode(cmd, rt)
	if err != nil {
		return err
	}
	name := args[0]

	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		st, err := c.Restart(name, mode)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s restarted (pid %d, port %d)\n", st.ServiceName, st.PID, st.Port)
		return nil
	}

	sess, err := openLocal(rt)
	if err != nil {
		return err
	}
	if _, err := sess.reg.Get(name); err != nil {
		return err
	}
	if err := sess.sup.Restart(cmd.Context(), name, mode); err != nil {
		return err
	}
	rec := sess.sup.Record(name)
	fmt.Printf("✓ %s restarted (pid %d, mode %s)\n", name, rec.PID, rec.Mode)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var statuses map[string]types.ServiceStatus

	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		remote, err := c.Statuses()
		if err != nil {
			return err
		}
		statuses = remote
	} else {
		rt, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		sess, err := openLocal(rt)
		if err != nil {
			return err
		}
		sess.mon.Sweep(cmd.Context())
		statuses = sess.mon.Statuses()
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tHEALTH\tPID\tPORT")
	for _, name := range names {
		st := statuses[name]
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", name, st.Status, st.Health, pid, st.Port)
	}
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	var entries []types.ServiceEntry

	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		list, err := c.ListServices()
		if err != nil {
			return err
		}
		for _, name := range list.Services {
			entries = append(entries, list.Details[name])
		}
	} else {
		rt, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		sess, err := openLocal(rt)
		if err != nil {
			return err
		}
		entries = sess.reg.List()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISPLAY\tPORT\tSOURCE\tORDER\tKIND")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n", e.Name, e.DisplayName, e.Port, e.Source, e.InstallOrder, e.ProcessKind)
	}
	return w.Flush()
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/logstore"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the central log store",
	Long: `Query centralized logs, newest first.

--since accepts a relative duration (15m, 2h) or an RFC 3339
timestamp. When the orchestrator is running, prefer --server so the
query goes through the API instead of opening the database directly.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().String("service", "", "Only entries from this service")
	logsCmd.Flags().String("level", "", "Minimum level: DEBUG, INFO, WARNING, ERROR or CRITICAL")
	logsCmd.Flags().String("since", "", "Only entries newer than a duration (1h) or RFC 3339 time")
	logsCmd.Flags().String("trace-id", "", "Only entries with this trace id")
	logsCmd.Flags().Int("limit", 100, "Maximum entries to return")
	rootCmd.AddCommand(logsCmd)
}

func buildLogFilter(cmd *cobra.Command) (types.LogFilter, error) {
	var filter types.LogFilter
	filter.ServiceName, _ = cmd.Flags().GetString("service")
	filter.TraceID, _ = cmd.Flags().GetString("trace-id")
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	if raw, _ := cmd.Flags().GetString("level"); raw != "" {
		level, err := types.ParseLogLevel(raw)
		if err != nil {
			return filter, fmt.Errorf("%v: %w", err, types.ErrInvalidInput)
		}
		filter.MinLevel = level
	}
	if raw, _ := cmd.Flags().GetString("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			return filter, err
		}
		filter.Since = since
	}
	return filter, nil
}

func parseSince(raw string) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q (want duration or RFC 3339): %w", raw, types.ErrInvalidInput)
	}
	return ts, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	filter, err := buildLogFilter(cmd)
	if err != nil {
		return err
	}

	var entries []types.LogEntry
	if c := remoteClient(cmd); c != nil {
		defer c.Close()
		page, err := c.QueryLogs(filter)
		if err != nil {
			return err
		}
		entries = page.Logs
	} else {
		rt, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		layout, err := paths.NewLayout(rt.Root)
		if err != nil {
			return err
		}
		store, err := logstore.Open(logstore.Config{
			Path:   layout.LogStorePath(),
			Logger: log.Logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err = store.Query(cmd.Context(), filter)
		if err != nil {
			return err
		}
	}

	for _, e := range entries {
		printLogEntry(e)
	}
	if len(entries) == 0 {
		fmt.Println("no matching log entries")
	}
	return nil
}

func printLogEntry(e types.LogEntry) {
	line := fmt.Sprintf("%s [%s] %s: %s",
		e.Timestamp.UTC().Format(time.RFC3339), e.Level, e.ServiceName, e.Message)
	if e.TraceID != "" {
		line += " trace=" + e.TraceID
	}
	fmt.Println(line)
}

package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivematrix/helm/pkg/orchestrator"
	"github.com/hivematrix/helm/pkg/types"
)

// TestCommandTree verifies every subcommand and flag the help text
// promises is actually registered.
func TestCommandTree(t *testing.T) {
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}

	for _, name := range []string{
		"serve", "start", "stop", "restart", "status",
		"list", "sync", "init", "logs", "version",
	} {
		assert.True(t, registered[name], "subcommand %q not registered", name)
	}

	for _, name := range []string{"root", "server", "token"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name),
			"persistent flag --%s not registered", name)
	}

	for _, name := range []string{"service", "level", "since", "trace-id", "limit"} {
		assert.NotNil(t, logsCmd.Flags().Lookup(name),
			"logs flag --%s not registered", name)
	}
}

// TestResolveMode covers the dev_mode default and explicit --mode values.
func TestResolveMode(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		devMode bool
		want    types.RunMode
		wantErr bool
	}{
		{name: "default is production", want: types.RunModeProduction},
		{name: "dev_mode flips the default", devMode: true, want: types.RunModeDevelopment},
		{name: "explicit development", flag: "development", want: types.RunModeDevelopment},
		{name: "explicit mode wins over dev_mode", flag: "production", devMode: true, want: types.RunModeProduction},
		{name: "unknown mode rejected", flag: "turbo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("mode", "", "")
			if tt.flag != "" {
				require.NoError(t, cmd.Flags().Set("mode", tt.flag))
			}

			mode, err := resolveMode(cmd, &orchestrator.Runtime{DevMode: tt.devMode})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

// newLogsTestCmd mirrors the logs command's flag set so subtests can
// mutate flags without leaking state between cases.
func newLogsTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "logs"}
	cmd.Flags().String("service", "", "")
	cmd.Flags().String("level", "", "")
	cmd.Flags().String("since", "", "")
	cmd.Flags().String("trace-id", "", "")
	cmd.Flags().Int("limit", 100, "")
	return cmd
}

// TestBuildLogFilter exercises flag-to-filter translation, including
// both accepted --since forms.
func TestBuildLogFilter(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		filter, err := buildLogFilter(newLogsTestCmd())
		require.NoError(t, err)
		assert.Equal(t, types.LogFilter{Limit: 100}, filter)
	})

	t.Run("AllFlags", func(t *testing.T) {
		cmd := newLogsTestCmd()
		require.NoError(t, cmd.Flags().Set("service", "core"))
		require.NoError(t, cmd.Flags().Set("level", "WARN"))
		require.NoError(t, cmd.Flags().Set("since", "2026-01-02T15:04:05Z"))
		require.NoError(t, cmd.Flags().Set("trace-id", "trace-1"))
		require.NoError(t, cmd.Flags().Set("limit", "5"))

		filter, err := buildLogFilter(cmd)
		require.NoError(t, err)
		assert.Equal(t, "core", filter.ServiceName)
		assert.Equal(t, types.LevelWarning, filter.MinLevel)
		assert.Equal(t, "trace-1", filter.TraceID)
		assert.Equal(t, 5, filter.Limit)
		assert.True(t, filter.Since.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)),
			"since = %v", filter.Since)
	})

	t.Run("DurationSince", func(t *testing.T) {
		cmd := newLogsTestCmd()
		require.NoError(t, cmd.Flags().Set("since", "15m"))

		filter, err := buildLogFilter(cmd)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC().Add(-15*time.Minute), filter.Since, 2*time.Second)
	})

	t.Run("ZonedSince", func(t *testing.T) {
		ts, err := parseSince("2026-01-02T15:04:05+02:00")
		require.NoError(t, err)
		assert.True(t, ts.Equal(time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC)), "since = %v", ts)
	})

	t.Run("BadLevel", func(t *testing.T) {
		cmd := newLogsTestCmd()
		require.NoError(t, cmd.Flags().Set("level", "noise"))

		_, err := buildLogFilter(cmd)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})

	t.Run("BadSince", func(t *testing.T) {
		cmd := newLogsTestCmd()
		require.NoError(t, cmd.Flags().Set("since", "yesterday"))

		_, err := buildLogFilter(cmd)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})
}

// TestSyncFailureError folds per-service failures into one deterministic
// error.
func TestSyncFailureError(t *testing.T) {
	assert.NoError(t, syncFailureError(nil))
	assert.NoError(t, syncFailureError(map[string]string{}))

	err := syncFailureError(map[string]string{
		"ledger": "no checkout",
		"codex":  "write .env: permission denied",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Contains(t, err.Error(), "2 services")
	assert.Contains(t, err.Error(), "codex: write .env: permission denied; ledger: no checkout")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clientFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drain the capture queue now",
	Long:  "Ask the compaction worker to run a cycle immediately instead of waiting for the next timer tick.",
	Args:  cobra.NoArgs,
	RunE:  runClientFlush,
}

func runClientFlush(cmd *cobra.Command, args []string) error {
	stats, err := newClient().Flush(cmd.Context())
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), stats)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Drained %d, expired %d, promoted %d, evicted %d\n",
		stats.Drained, stats.Expired, stats.Promoted, stats.CapEvicted)
	return nil
}

var clientBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a database snapshot now",
	Args:  cobra.NoArgs,
	RunE:  runClientBackup,
}

func runClientBackup(cmd *cobra.Command, args []string) error {
	path, err := newClient().Backup(cmd.Context())
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{"path": path})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", path)
	return nil
}

var clientMaintenanceCmd = &cobra.Command{
	Use:   "maintenance <task>",
	Short: "Run a maintenance task",
	Long:  "Tasks: stale (quarantine never-retrieved old records), rebuild_tags (rebuild the tag index from the store), dedup (quarantine near-duplicate records).",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientMaintenance,
}

func runClientMaintenance(cmd *cobra.Command, args []string) error {
	report, err := newClient().Maintenance(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), report)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Task %s affected %d records\n", report.Task, report.Affected)
	return nil
}

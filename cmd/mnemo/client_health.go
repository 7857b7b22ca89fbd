package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clientHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon health",
	Args:  cobra.NoArgs,
	RunE:  runClientHealth,
}

func runClientHealth(cmd *cobra.Command, args []string) error {
	health, err := newClient().Health(cmd.Context())
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), health)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "status\t%s\n", health.Status)
	fmt.Fprintf(w, "version\t%s\n", health.Version)
	fmt.Fprintf(w, "memories\t%d\n", health.MemoryCount)
	fmt.Fprintf(w, "observations\t%d\n", health.ObservationCnt)
	fmt.Fprintf(w, "fix chains\t%d\n", health.FixChainCount)
	fmt.Fprintf(w, "queue depth\t%d\n", health.QueueDepth)
	fmt.Fprintf(w, "tag index synced\t%t\n", health.TagIndexSynced)
	w.Flush()

	return nil
}

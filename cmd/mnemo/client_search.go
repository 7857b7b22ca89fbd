package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/client"
)

var (
	searchMode        string
	searchTopK        int
	searchMaxDistance float64
)

var clientSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.ExactArgs(1),
	RunE:  runClientSearch,
}

func init() {
	clientSearchCmd.Flags().StringVar(&searchMode, "mode", "auto",
		"Search mode: auto, tag, keyword, semantic, hybrid")
	clientSearchCmd.Flags().IntVar(&searchTopK, "top-k", 0,
		"Maximum results (0 uses the daemon default)")
	clientSearchCmd.Flags().Float64Var(&searchMaxDistance, "max-distance", 0,
		"Maximum cosine distance for semantic matches (0 uses the daemon default)")
}

func runClientSearch(cmd *cobra.Command, args []string) error {
	results, err := newClient().Search(cmd.Context(), args[0], client.SearchParams{
		Mode:        client.SearchMode(searchMode),
		TopK:        searchTopK,
		MaxDistance: searchMaxDistance,
	})
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), results)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tSCORE\tSOURCE\tTIER\tTAGS\tPREVIEW")
	for _, r := range results {
		tags := strings.Join(r.Memory.Tags, ",")
		if tags == "" {
			tags = "-"
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\t%d\t%s\t%s\n",
			r.Memory.ID, r.Score, r.Source, r.Memory.Tier, tags, r.Memory.Preview)
	}
	w.Flush()

	return nil
}

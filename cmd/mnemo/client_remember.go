package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/client"
)

var (
	rememberTags    []string
	rememberContext string
	rememberForce   bool
	rememberStdin   bool
)

var clientRememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Store a memory",
	Long:  "Store a memory through the daemon's full write path: noise filter, tag normalization, deduplication, and tier classification.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClientRemember,
}

func init() {
	clientRememberCmd.Flags().StringSliceVar(&rememberTags, "tag", nil,
		"Tag in namespace:value form (repeatable)")
	clientRememberCmd.Flags().StringVar(&rememberContext, "context", "",
		"Surrounding context stored alongside the text")
	clientRememberCmd.Flags().BoolVar(&rememberForce, "force", false,
		"Bypass duplicate detection (the noise filter still applies)")
	clientRememberCmd.Flags().BoolVar(&rememberStdin, "stdin", false,
		"Read the text from standard input")
}

func runClientRemember(cmd *cobra.Command, args []string) error {
	var text string
	switch {
	case rememberStdin:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	case len(args) == 1:
		text = args[0]
	default:
		return fmt.Errorf("provide the text as an argument or use --stdin")
	}

	result, err := newClient().Remember(cmd.Context(), client.RememberParams{
		Text:    text,
		Context: rememberContext,
		Tags:    rememberTags,
		Force:   rememberForce,
	})
	if err != nil {
		return err
	}

	if clientJSONOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}

	switch result.Status {
	case "blocked":
		fmt.Fprintf(cmd.ErrOrStderr(), "Blocked: %s\n", result.Reason)
	case "stored_near_duplicate":
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s)\n", result.ID, result.Reason)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", result.ID)
	}
	return nil
}

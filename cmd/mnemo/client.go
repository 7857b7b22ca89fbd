package main

import (
	"encoding/json"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mnemo-sh/mnemo/pkg/client"
)

var (
	clientSocketPath string
	clientJSONOutput bool
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running mnemo daemon",
	Long:  "Send requests to the daemon over its Unix socket without going through HTTP.",
}

func init() {
	defaultSocket := os.Getenv("MNEMO_SOCKET_PATH")
	if defaultSocket == "" {
		defaultSocket = "data/mnemo.sock"
	}
	clientCmd.PersistentFlags().StringVar(&clientSocketPath, "socket", defaultSocket,
		"Path to the daemon's Unix socket (overrides MNEMO_SOCKET_PATH)")
	clientCmd.PersistentFlags().BoolVar(&clientJSONOutput, "json", false,
		"Output in JSON format")

	clientCmd.AddCommand(clientRememberCmd)
	clientCmd.AddCommand(clientSearchCmd)
	clientCmd.AddCommand(clientHealthCmd)
	clientCmd.AddCommand(clientFlushCmd)
	clientCmd.AddCommand(clientBackupCmd)
	clientCmd.AddCommand(clientMaintenanceCmd)
}

// newClient builds a client for the configured socket.
func newClient() *client.Client {
	return client.New(clientSocketPath)
}

// printJSON marshals v to indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// Resume Assistant - chat relay server for the hosted resume assistant
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "Relay visitor questions to the hosted resume assistant",
		Long: `Serves the chat API: visitor prompts are moderated, appended to the
visitor's assistant thread, and answered with the full conversation.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newAuditCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

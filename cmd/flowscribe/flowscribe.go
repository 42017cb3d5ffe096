// Package flowscribecmder
package flowscribecmder

import (
	"github.com/spf13/cobra"

	servecmder "github.com/flowscribe/flowscribe/cmd/flowscribe/serve"
	versioncmder "github.com/flowscribe/flowscribe/cmd/version"
)

const flowscribeLongDesc string = `Flowscribe is a logging reverse-proxy for chat completion APIs.

It forwards /v1/chat/completions requests to an upstream inference backend,
relays buffered or streamed responses unchanged, and appends one log record
per request to an append-only store.

Run the proxy using:
  flowscribe serve     Run the proxy server`

const flowscribeShortDesc string = "Flowscribe - LLM request logging proxy"

func NewFlowscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowscribe",
		Short: flowscribeShortDesc,
		Long:  flowscribeLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory to search for config.toml")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

// Package main is the entrypoint for callcore.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/morezero/callcore/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "callcore",
		Short:         "Service invocation core",
		Long:          "Run the callcore invocation server, invoke services on a running one, and manage the invocation journal.\n\nConfiguration is read from the environment (COMMS_URL, HTTP_PORT, GRPC_PORT, DATABASE_URL, RPC_FILTERS, ...).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(ensureDBCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the invocation server",
		Long:  "Start the invocation server: COMMS request/reply, HTTP, JSON-RPC and gRPC transports, metrics and health endpoints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run()
		},
	}
}

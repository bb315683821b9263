// Command kudo402 runs the kudo x402 services: the facilitator, the paywalled
// Twitter resource server, its MCP variant and the payment receipts API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "kudo402",
		Short:        "x402 payments settled as kudo covenants",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	rootCmd.AddCommand(facilitatorCmd())
	rootCmd.AddCommand(resourceServerCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(receiptsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

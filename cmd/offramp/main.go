// Command offramp runs the anchor withdrawal flow as an HTTP service or from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "offramp",
	Short: "Anchor cash-out withdrawals over Stellar",
	Long: "Authenticates with a SEP-24 anchor, opens interactive withdrawals, watches them " +
		"until the anchor is ready and pays the anchor's settlement account.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

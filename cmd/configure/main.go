package main

import (
	"fmt"
	"os"

	"github.com/benvon/render-gate/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "render-gate-configure",
		Short: "Configuration tool for render-gate",
		Long:  "CLI tool for managing edge rate limits, user standing and identity provider checks",
	}

	rootCmd.AddCommand(commands.NewRatelimitCmd())
	rootCmd.AddCommand(commands.NewUsersCmd())
	rootCmd.AddCommand(commands.NewLimitsCmd())
	rootCmd.AddCommand(commands.NewOIDCCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

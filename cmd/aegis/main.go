// Package main is the entry point for the aegis binary. It provides a CLI for
// validating resources against compliance policies and for running the engine
// as a long-lived service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for aegis.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aegis",
		Short: "Policy rule evaluation and compliance remediation engine",
		Long: `Aegis evaluates resources against compliance policies, records
violations, and drives remediation plans and incident response.

Example:
  aegis validate --policies ./policies --resources ./resources.yaml
  aegis serve --config ./aegis.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Enable pretty console logging")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

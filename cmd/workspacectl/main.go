package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "workspacectl",
	Short: "Operate a running Workspace Lifecycle Orchestrator control plane",
	Long: `workspacectl talks to a running control-plane process's admin HTTP
surface: list the warm pool, list active sessions, force a pool
replenishment, force a reconciler cycle, and check whether a dependency
hash is materialized in the object store.`,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "http://localhost:8080", "Admin HTTP surface base address")

	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(replenishCmd)
	rootCmd.AddCommand(reapCmd)
	rootCmd.AddCommand(depCacheCmd)
}

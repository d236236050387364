package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active orchestrator sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return call(addr, http.MethodGet, "/admin/sessions")
	},
}

var depCacheCmd = &cobra.Command{
	Use:   "dep-cache [hash]",
	Short: "Check whether a dependency cache hash is materialized",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return call(addr, http.MethodGet, "/admin/dep-cache/"+args[0])
	},
}

package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "List the warm pool's sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return call(addr, http.MethodGet, "/admin/pool")
	},
}

var replenishCmd = &cobra.Command{
	Use:   "replenish",
	Short: "Force an immediate pool replenishment cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return call(addr, http.MethodPost, "/admin/pool/replenish")
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Force an immediate reconciler cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return call(addr, http.MethodPost, "/admin/pool/reap")
	},
}

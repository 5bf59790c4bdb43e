package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/tix/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start a Model Context Protocol server over stdio.

The server exposes ticket tools (list, create, update, delete, repair)
acting as the configured local user. Ownership rules apply: tickets
created by other users cannot be changed or deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, currentUser())
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

package main

import (
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/pipeline"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP server on stdio exposing compare, resolve and history tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			a.out = os.Stderr
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			defer a.Close()

			srv := pipeline.NewMCPServer(p, a.historyReader(), version)
			a.logger.Info("designcheck: mcp server ready", "transport", "stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

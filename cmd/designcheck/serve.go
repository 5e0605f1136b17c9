package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports and the run history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			var hist server.HistoryReader
			if a.store != nil {
				hist = a.store
			}
			return server.Serve(cmd.Context(), addr, server.Handler(hist, a.cfg.OutputDir(), a.logger), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr, :7070)")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/yurei/internal/server"
)

func serveCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Address = addr
			}

			deps := server.Deps{
				Server:  a.cfg.Server,
				Auth:    a.cfg.Auth,
				Search:  a.orch,
				Domains: a.domains,
				LLM:     a.llm,
				Metrics: a.metrics,
				Logger:  a.logger,
			}
			limiter, err := a.limiter(ctx)
			if err != nil {
				return err
			}
			if limiter != nil {
				deps.Limiter = limiter
			}
			return server.New(deps).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

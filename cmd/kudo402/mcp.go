package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kudoprotocol/kudo-x402/config"
	"github.com/kudoprotocol/kudo-x402/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the paywalled Twitter tools over MCP (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(cmd); err != nil {
				return err
			}
			cfg, err := config.LoadMCP()
			if err != nil {
				return err
			}
			logger := cfg.Log.Logger(os.Stderr)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := newTwitterApp(ctx, &cfg.ResourceServer, logger)
			if err != nil {
				return err
			}

			server := mcp.NewTwitterServer(app.server, app.gate, logger)
			mux := http.NewServeMux()
			mux.Handle(cfg.SSEPath, mcp.SSEHandler(server))
			mux.Handle("/", app.server.Handler())
			return serve(ctx, logger, "mcp", cfg.Port, mux, app.cleanup...)
		},
	}
}

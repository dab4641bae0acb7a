package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/konveyor/analysis-tracker/cmd/analysis-tracker/mcp"
	"github.com/konveyor/analysis-tracker/config"
	"github.com/konveyor/analysis-tracker/tracing"
	"github.com/spf13/cobra"
)

var (
	mcpTransport string
	mcpPort      int
	mcpJWTSecret string
)

func MCPCmd() *cobra.Command {
	flags := &config.Flags{}

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI assistant integration",
		Long:  "Model Context Protocol (MCP) server that lets AI assistants and other MCP clients start, watch and diagnose the analysis job",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout belongs to the stdio transport
			log := newLogger()

			cfg, err := flags.Load(cmd)
			if err != nil {
				log.Error(err, "failed to load configuration")
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			tp, err := tracing.InitTracerProvider(log, cfg.TracingOptions())
			if err != nil {
				log.Error(err, "failed to initialize tracing")
				return err
			}
			defer tracing.Shutdown(context.Background(), log, tp)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			server, err := mcp.NewMCPServer(log, cfg)
			if err != nil {
				log.Error(err, "failed to create MCP server")
				return err
			}
			defer server.Close()

			errChan := make(chan error, 1)
			go func() {
				log.Info("starting MCP server", "transport", mcpTransport)
				switch mcpTransport {
				case "stdio":
					errChan <- server.ServeStdio(ctx)
				case "http":
					errChan <- server.ServeHTTP(ctx, mcpPort, mcp.HTTPConfig{
						JWTSecret: mcpJWTSecret,
					})
				default:
					errChan <- fmt.Errorf("unsupported transport type %q", mcpTransport)
				}
			}()

			select {
			case <-sigChan:
				log.Info("received shutdown signal, stopping server")
				cancel()
				<-errChan
			case err := <-errChan:
				if err != nil {
					log.Error(err, "server error")
					return err
				}
			}

			return nil
		},
	}

	flags.AddFlags(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport type (stdio or http)")
	mcpCmd.Flags().IntVar(&mcpPort, "port", 8080, "Port for HTTP transport")
	mcpCmd.Flags().StringVar(&mcpJWTSecret, "jwt-secret", os.Getenv("MCP_JWT_SECRET"), "HS256 secret that bearer tokens on /mcp must be signed with, empty disables authentication")

	return mcpCmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/fyrsmithlabs/ingestd/internal/http"
)

var (
	serveHost     string
	servePort     int
	serveWatchDir string
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "also ingest files dropped into this directory")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the ingestd HTTP API on /api/v1, with /health and /metrics.

Examples:
  # Serve on the configured address
  ingestd serve

  # Serve on all interfaces and watch a drop folder
  ingestd serve --host 0.0.0.0 --watch /srv/dropbox`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, appOptions{}, runServe)
	},
}

func runServe(ctx context.Context, a *app) error {
	cfg := &httpserver.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		APIToken:    a.cfg.Server.APIToken.Value(),
		MaxUploadMB: a.cfg.Server.MaxUploadMB,
		Version:     version,
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	srv, err := httpserver.NewServer(a.httpServices(), a.logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := a.shutdownContext()
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if serveWatchDir != "" {
		g.Go(func() error {
			return a.watch(gctx, serveWatchDir, nil)
		})
	}

	a.logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("api_token", cfg.APIToken != ""),
	)

	err = g.Wait()
	a.logger.Info("server shutdown complete")
	return err
}

// httpServices wires the configured components into the HTTP routes.
// Unconfigured optional components stay nil interfaces.
func (a *app) httpServices() httpserver.Services {
	s := httpserver.Services{
		Ingestor:   a.documents,
		Documents:  a.docs,
		Retriever:  a.retriever,
		Namespaces: a.gateway,
	}
	if a.sql != nil {
		s.Tables = a.sql
	}
	if a.indexer != nil {
		s.Indexer = a.indexer
	}
	if a.testcases != nil {
		s.TestCases = a.testcases
	}
	return s
}

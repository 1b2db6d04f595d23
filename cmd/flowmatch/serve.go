package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/flowmatch/internal/agent"
	"github.com/Veraticus/flowmatch/internal/extract"
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the matching HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := slog.Default()

			client, cfg, err := createLLMClient()
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			idx, err := buildIndex(ctx, client, store)
			if err != nil {
				return err
			}
			catalog := index.NewSwappable(idx)

			adjudicator := llm.NewAdjudicatorWithClient(client, cfg, logger)
			defer func() { _ = adjudicator.Close() }()

			srv := server.New(server.Deps{
				Pipeline:  match.New(catalog, adjudicator, logger),
				Agent:     agent.New(adjudicator, catalog, logger),
				Extractor: extract.NewLLMExtractor(client, logger),
				Store:     store,
				Embedder:  client,
				Catalog:   catalog,
				Logger:    logger,
			})

			if addr == "" {
				addr = viper.GetString("server.addr")
			}
			if addr == "" {
				addr = ":8080"
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errChan := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", addr, "catalog_size", catalog.Len())
				errChan <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				return nil
			case err := <-errChan:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080 or server.addr from config)")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MegaGrindStone/go-aisdk/servers/chat"
	"github.com/MegaGrindStone/go-aisdk/servers/cms"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		storePath    string
		jsonResponse bool
		delay        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo plugin: echo chat endpoints and the CMS MCP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cms.NewStore(storePath, cms.DefaultContentTypes())
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           newDemoMux(store, a.logger, chat.EchoGenerator{Delay: delay}, jsonResponse),
				ReadHeaderTimeout: 15 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				fmt.Fprintf(cmd.OutOrStdout(), "Server starting on %s\n", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "file persisting CMS content (in-memory when empty)")
	cmd.Flags().BoolVar(&jsonResponse, "json-response", false, "answer MCP calls with JSON documents instead of event streams")
	cmd.Flags().DurationVar(&delay, "delay", 50*time.Millisecond, "delay between streamed fragments")
	cmd.Flags().StringVar(&a.cfg.ListenAddr, "listen", a.cfg.ListenAddr, "listen address")
	return cmd
}

// newDemoMux mounts the plugin routes the way the CMS does: chat endpoints and the MCP endpoint under
// /api/ai-sdk, and a health probe at the root.
func newDemoMux(store *cms.Store, logger *slog.Logger, gen chat.Generator, jsonResponse bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/api/ai-sdk/mcp", cms.NewServer(store, logger).Handler(jsonResponse))
	mux.Handle("/api/ai-sdk/", http.StripPrefix("/api/ai-sdk", chat.NewHandler(gen, chat.WithLogger(logger))))
	return mux
}

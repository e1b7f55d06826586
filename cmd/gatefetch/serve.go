package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/gatefetch/pkg/client"
	"github.com/Sternrassler/gatefetch/pkg/logging"
	"github.com/Sternrassler/gatefetch/pkg/metrics"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve gated fetches over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}

		components, err := cfg.Build()
		if err != nil {
			return err
		}
		defer components.Close()

		logger := logging.NewLogger(logging.ComponentServer)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if components.Cache != nil {
			if err := components.Cache.Ping(ctx); err != nil {
				return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
			}
			logger.Info().Str("redis", cfg.Cache.RedisAddr).Msg("Connected to Redis")
		}

		var ready pinger
		if components.Cache != nil {
			ready = components.Cache
		}
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           newMux(components.Client, ready, cfg.Server.RequestTimeout.Duration, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info().
				Str("addr", cfg.Server.Addr).
				Str("user_agent", cfg.HTTP.UserAgent).
				Msg("Starting gatefetch server")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

// pinger is satisfied by *cache.Manager.
type pinger interface {
	Ping(ctx context.Context) error
}

func newMux(c *client.Client, cache pinger, timeout time.Duration, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(cache))
	mux.HandleFunc("/fetch", fetchHandler(c, timeout, logger))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when the page cache, if configured, answers.
func readyHandler(cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cache.Ping(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// Response headers added by the fetch endpoint.
const (
	headerGate        = "X-Gatefetch-Gate"
	headerGateBlocked = "X-Gatefetch-Gate-Blocked"
)

// fetchHandler proxies GET /fetch?url=<target> through the gated client.
func fetchHandler(c *client.Client, timeout time.Duration, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := c.Fetch(ctx, target, client.Options{})
		if err != nil {
			if errors.Is(err, client.ErrInvalidURL) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Warn().Err(err).Str("url", target).Msg("Fetch failed")
			http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadGateway)
			return
		}

		for key, values := range resp.Header {
			// The gate token stays with the server.
			if key == "Set-Cookie" {
				continue
			}
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.Header().Set(headerGate, string(resp.Gate))
		w.Header().Set(headerGateBlocked, strconv.FormatBool(resp.GateBlocked))
		w.WriteHeader(resp.StatusCode)

		if _, err := w.Write(resp.Body); err != nil {
			logger.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

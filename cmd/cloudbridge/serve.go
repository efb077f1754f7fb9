package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/rolledback/cloudbridge/internal/handlers"
	"github.com/rolledback/cloudbridge/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the method channel and event stream over HTTP",
	Long: `Serve exposes:

  POST /api/channel    {"method": "...", "arguments": {...}} -> response
  GET  /api/events     newline-delimited progress and result events
  GET  /api/providers  registered provider ids`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a := newApp(ctx)
	defer a.close()

	h := handlers.NewChannelHandler(a.bridge, a.providers, a.queue.Events(), log)
	rl := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, log)
	limited := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.Logging(log, middleware.CORS(rl.Limit(next)))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/channel", limited(h.Call))
	mux.HandleFunc("/api/providers", limited(h.ListProviders))
	mux.HandleFunc("/api/events", middleware.Logging(log, middleware.CORS(h.Events)))

	srv := &http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// the event stream only ends once the queue is closed
		a.queue.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown incomplete")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":     cfg.Addr(),
		"provider": cfg.Provider,
		"storage":  cfg.StorageDir,
	}).Info("starting server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		// No logger yet; write the failure straight to stderr and die.
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := NewLogger(cfg)

	broker := NewBroker(logger)
	handlers := NewHTTPHandlers(broker, logger)
	limiter := NewAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst)

	router := mux.NewRouter()
	handlers.SetupRoutes(router, cfg, limiter)
	router.Use(corsMiddleware)
	router.Use(requestLogMiddleware(logger))

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("ws_endpoint", "/ws").
			Msg("broker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// corsMiddleware adds permissive CORS headers for development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware logs every HTTP request with its duration
func requestLogMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.RequestURI).
				Str("remote", r.RemoteAddr).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caffeineduck/rurema/executor"
	"github.com/caffeineduck/rurema/internal/limiter"
	"github.com/caffeineduck/rurema/snippet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for snippet execution",
	Long: `Start an HTTP server that runs snippets and streams their output.

Endpoints:
  POST   /run       Run {"code":"..."}; streams newline-delimited JSON events:
                    {"output":"..."} per chunk, then {"done":true} or {"error":"..."}
  GET    /health    Health check
  GET    /metrics   Prometheus metrics`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("timeout", 0, "Default execution timeout (default: none)")
	rootCmd.AddCommand(serveCmd)
}

type runRequest struct {
	Code    string `json:"code"`
	Timeout string `json:"timeout,omitempty"`
}

type runEvent struct {
	Output string `json:"output,omitempty"`
	Done   bool   `json:"done,omitempty"`
	Error  string `json:"error,omitempty"`
}

type server struct {
	exec    *executor.Executor
	timeout time.Duration
	logger  zerolog.Logger
}

func newHandler(srv *server, rl *limiter.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	var run http.Handler = http.HandlerFunc(srv.handleRun)
	if rl != nil {
		run = rl.Middleware(run)
	}
	mux.Handle("/run", run)

	return mux
}

func (srv *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	timeout := srv.timeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	var opts []executor.Option
	if timeout > 0 {
		opts = append(opts, executor.WithTimeout(timeout))
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	var mu sync.Mutex
	emit := func(ev runEvent) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	start := time.Now()
	err := srv.exec.Run(r.Context(), snippet.Normalize(req.Code), func(text string) {
		emit(runEvent{Output: text})
	}, opts...)

	if err != nil {
		srv.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("run failed")
		emit(runEvent{Error: err.Error()})
		return
	}
	srv.logger.Debug().Dur("elapsed", time.Since(start)).Msg("run finished")
	emit(runEvent{Done: true})
}

func runServe(cmd *cobra.Command, args []string) {
	s, err := loadSettings(cmd)
	if err != nil {
		fatal(err)
	}

	exec, err := newExecutor(s)
	if err != nil {
		fatal(err)
	}
	defer exec.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the module cache without blocking startup; requests arriving
	// before it finishes wait on the same load.
	go func() {
		if err := exec.Cache().Precompile(ctx); err != nil {
			s.logger.Error().Err(err).Str("artifact", exec.Cache().Location()).Msg("interpreter load failed")
		}
	}()

	var limitOpts []limiter.Option
	if s.server.TrustProxy {
		limitOpts = append(limitOpts, limiter.WithTrustForwardedFor())
	}
	rl := limiter.New(s.server.Rate, s.server.Burst, s.server.MaxConcurrent, limitOpts...)
	rl.StartCleanup(ctx, 5*time.Minute)

	srv := &server{exec: exec, timeout: s.timeout, logger: s.logger}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.server.Port),
		Handler:           newHandler(srv, rl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", httpServer.Addr).Str("artifact", exec.Cache().Location()).Msg("rurema server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		exec.Close()
		fatal(err)
	}
}

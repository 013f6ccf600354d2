package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/hupe1980/framecache"
	"github.com/hupe1980/framecache/model"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve thumbnails and metrics over HTTP",
		Long: `Serve thumbnails over HTTP until interrupted.

Endpoints:
  GET /thumbnails/{source}/{index}   JPEG thumbnail, generated on a miss
  GET /stats                         cache statistics as JSON
  GET /healthz                       liveness probe
  GET /metrics                       Prometheus metrics (metrics.enabled)

Examples:
  framecache serve --addr :8080
  FRAMECACHE_METRICS_ENABLED=true framecache serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, g)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if addr == "" {
				addr = s.cfg.Metrics.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())

			return serve(ctx, ln, s)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: metrics.addr)")
	return cmd
}

// serve runs the HTTP server on ln until ctx is done.
func serve(ctx context.Context, ln net.Listener, s *session) error {
	srv := &http.Server{
		Handler:           newHandler(s),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestTimeout bounds one request, including a thumbnail generated on a miss.
const requestTimeout = 60 * time.Second

func newHandler(s *session) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.cache.Stats())
	})

	r.Get("/thumbnails/{source}/{index}", func(w http.ResponseWriter, r *http.Request) {
		index, err := parseIndex(chi.URLParam(r, "index"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		e, err := s.cache.GetOrGenerate(r.Context(), model.NewKey(chi.URLParam(r, "source"), index), 0)
		switch {
		case err == nil:
		case framecache.IsCancelled(err):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(e.Payload)
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs each request at debug level once it completes.
func requestLogger(logger *framecache.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/executor"
	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/handler/rewrite"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scripts under the document root over HTTP",
		Long: `Start an HTTP server that runs the script each request path resolves to.

A path naming a directory runs its index script. Trailing path segments after
a script become PATH_INFO. Rewrite rules from the config file run first.

Endpoints:
  GET /health    Health check
  *   /...       Scripts under the document root`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("listen", "l", ":8080", "Address to listen on")
	cmd.Flags().IntP("pool", "p", 0, "Engine instances (default: number of CPUs)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := executor.Logger()

	eng, err := newEngines(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	var rw rewrite.Rewriter
	if len(cfg.Rewrite) > 0 {
		if rw, err = rewrite.Compile(cfg.Rewrite); err != nil {
			return err
		}
	}

	pool, err := executor.NewPool(cfg.PoolSize, eng.New, eng.executorOptions()...)
	if err != nil {
		return err
	}
	defer pool.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newMux(newServer(pool, rw, eng.cfg.Docroot, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Listen),
			zap.String("engine", cfg.Engine),
			zap.String("docroot", eng.cfg.Docroot),
			zap.Int("pool", pool.Size()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/", h)
	return mux
}

// server adapts a handler.Handler to net/http.
type server struct {
	handler  handler.Handler
	rewriter rewrite.Rewriter
	docroot  string
	logger   *zap.Logger
}

func newServer(h handler.Handler, rw rewrite.Rewriter, docroot string, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{handler: h, rewriter: rw, docroot: docroot, logger: logger}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", id)
	log := s.logger.With(zap.String("request_id", id))

	req, err := s.convert(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.rewriter != nil {
		if req, err = s.rewriter.Rewrite(req); err != nil {
			log.Warn("rewrite failed", zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	resp, err := s.handler.Handle(r.Context(), req)
	switch {
	case errors.Is(err, executor.ErrScriptNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errors.Is(err, executor.ErrPoolClosed):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Warn("request failed", zap.String("path", req.Path()), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	for _, line := range resp.LogLines() {
		log.Debug("script log", zap.String("path", req.Path()), zap.String("line", line))
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *handler.Response) {
	body := resp.Body()
	if msg, ok := resp.Exception(); ok && len(body) == 0 {
		body = []byte(msg)
	}

	h := w.Header()
	resp.Headers().Each(func(key string, values []string) bool {
		for _, v := range values {
			h.Add(key, v)
		}
		return true
	})
	status := resp.Status()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
}

// convert builds the engine request from r. Header order is sorted since
// net/http does not keep it.
func (s *server) convert(r *http.Request) (*handler.Request, error) {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}

	b := handler.NewRequest().
		Method(r.Method).
		ParsedURL(&u).
		Body(r.Body).
		Docroot(s.docroot)

	if r.Host != "" {
		b.Header("Host", r.Host)
	}
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range r.Header[k] {
			b.Header(k, v)
		}
	}

	local, _ := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	var remote net.Addr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		remote = net.TCPAddrFromAddrPort(ap)
	}
	b.Addrs(local, remote)
	return b.Build()
}

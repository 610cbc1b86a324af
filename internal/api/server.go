package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/metrics"
	"github.com/imalyk/go-thumbnailer/pkg/log"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	defaultMaxUploadBytes   = 20 << 20
)

type Options struct {
	MaxUploadBytes    int64
	TrustProxyHeaders bool
	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

func NewRouter(d Dispatcher, deadLetters DeadLetters, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	h := &handler{dispatcher: d, deadLetters: deadLetters, opts: opts}

	router := mux.NewRouter()
	router.Use(
		log.RequestID,
		log.Logger(zap.L(), "http"),
		middleware.Recoverer,
	)

	router.HandleFunc("/", h.home).Methods(http.MethodGet)
	router.HandleFunc("/upload", h.upload).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{id}", h.status).Methods(http.MethodGet)
	router.HandleFunc("/deadletters", h.listDeadLetters).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return router
}

type Server struct {
	handler  http.Handler
	listener net.Listener
	name     string
}

func NewServer(name string, handler http.Handler, listener net.Listener) *Server {
	return &Server{name: name, handler: handler, listener: listener}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	logger := zap.S().Named(s.name)
	srv := http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
	}()

	logger.Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

func NewListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

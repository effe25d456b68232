package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"blitz-proxy/internal/impacts/application"
	"blitz-proxy/internal/impacts/infrastructure/memory"
	impactsrepo "blitz-proxy/internal/impacts/infrastructure/postgres"
	impactshttp "blitz-proxy/internal/impacts/interfaces/http"
	"blitz-proxy/internal/observability/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var db *sql.DB
	if pg, ok := store.(*impactsrepo.EventStore); ok {
		db = pg.DB()
	}
	metrics.Init(store, db, logger)

	debugLogger := log.New(io.Discard, "", 0)
	if cfg.Debug {
		debugLogger = log.New(os.Stdout, "debug ", log.LstdFlags)
	}
	service, err := application.NewService(store, application.WithDebugLogger(debugLogger))
	if err != nil {
		return fmt.Errorf("impacts service: %w", err)
	}
	handler, err := impactshttp.NewHandler(service, logger,
		impactshttp.WithDocsURL(cfg.DocsURL),
		impactshttp.WithDebug(cfg.Debug),
	)
	if err != nil {
		return fmt.Errorf("impacts handler: %w", err)
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("http listening on %s (store=%s encoding=%s debug=%t)", cfg.HTTPAddr, cfg.StoreBackend, cfg.encoding(), cfg.Debug)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore builds the configured event store; the returned func releases it.
func openStore(ctx context.Context, cfg config, logger *log.Logger) (application.EventStore, func(), error) {
	encoding := cfg.encoding()

	if cfg.StoreBackend == backendMemory {
		store, err := memory.NewEventStore(encoding)
		if err != nil {
			return nil, nil, err
		}
		if cfg.MemorySeed != "" {
			n, err := store.LoadSeed(cfg.MemorySeed)
			if err != nil {
				return nil, nil, fmt.Errorf("memory seed: %w", err)
			}
			logger.Printf("memory store seeded with %d impacts from %s", n, cfg.MemorySeed)
		}
		return store, func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}

	store, err := impactsrepo.NewEventStore(db, encoding, impactsrepo.WithTable(cfg.ImpactsTable))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() {
		if err := db.Close(); err != nil {
			logger.Printf("db close error: %v", err)
		}
	}, nil
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s request_id=%s", r.Method, r.URL.Path, resp.status, time.Since(start), requestID)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

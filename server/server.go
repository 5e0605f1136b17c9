// Package server exposes the report workspace and the run history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/designcheck/history"
	"github.com/hazyhaar/designcheck/outcome"
)

// HistoryReader is the read side of the run history. *history.Store
// implements it.
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	GetRun(ctx context.Context, id string) (*outcome.Summary, error)
	ElementHistory(ctx context.Context, key string, limit int) ([]outcome.ElementResult, error)
}

// Handler builds the router. hist may be nil when history is disabled.
//
//	GET /health
//	GET /api/runs?limit=
//	GET /api/runs/{id}
//	GET /api/elements/{key}?limit=
//	GET /reports/*
func Handler(hist HistoryReader, reportsDir string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Use(SecurityHeaders(DefaultHeaders()))
	r.Use(RequestID(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/reports/", http.StatusFound)
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Use(requireHistory(hist))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			runs, err := hist.ListRuns(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				logger.ErrorContext(r.Context(), "server: list runs", "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if runs == nil {
				runs = []*history.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			run, err := hist.GetRun(r.Context(), id)
			if err != nil {
				logger.ErrorContext(r.Context(), "server: get run", "run_id", id, "error", err)
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if run == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
	})

	r.With(requireHistory(hist)).Get("/api/elements/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		results, err := hist.ElementHistory(r.Context(), key, queryInt(r, "limit", 20))
		if err != nil {
			logger.ErrorContext(r.Context(), "server: element history", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if results == nil {
			results = []outcome.ElementResult{}
		}
		writeJSON(w, http.StatusOK, results)
	})

	files := http.FileServerFS(reportFS{os.DirFS(reportsDir)})
	r.Handle("/reports/*", http.StripPrefix("/reports/", files))
	return r
}

func requireHistory(hist HistoryReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hist == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history is disabled"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reportFS hides the history database that shares the workspace.
type reportFS struct{ fs.FS }

func (f reportFS) Open(name string) (fs.File, error) {
	base := name[strings.LastIndex(name, "/")+1:]
	for _, suffix := range []string{".db", ".db-wal", ".db-shm", ".db-journal"} {
		if strings.HasSuffix(base, suffix) {
			return nil, fs.ErrNotExist
		}
	}
	return f.FS.Open(name)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server: stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

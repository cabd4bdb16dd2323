package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only ops HTTP server",
	Long:  "Serves job status and active snapshot information for operator dashboards. Intake and processing stay outside this surface.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           opsRouter(st),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("ops server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func opsRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		filter := store.JobFilter{
			Status: model.JobStatus(req.URL.Query().Get("status")),
			Limit:  100,
		}
		jobs, err := st.ListJobs(req.Context(), filter)
		if err != nil {
			zap.L().Error("list jobs", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list jobs failed"})
			return
		}
		if jobs == nil {
			jobs = []model.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, err := st.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		snap, err := st.LoadSnapshot(req.Context())
		if err != nil {
			var cfgErr *store.ConfigurationError
			if errors.As(err, &cfgErr) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": cfgErr.Reason})
				return
			}
			zap.L().Error("load snapshot", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load snapshot failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              snap.ID,
			"version":         snap.Version,
			"created_at":      snap.CreatedAt,
			"catalog_entries": len(snap.Catalog),
			"aliases":         len(snap.Aliases),
			"rules":           len(snap.Rules),
			"has_trip_fee":    snap.TripFee != nil,
			"has_template":    snap.Template != nil,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

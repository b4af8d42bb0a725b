package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/monitoring"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/internal/tiger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the results API and vector tiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pool, err := geoPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		geo := geospatial.NewPostgresStore(pool)

		ttl := time.Duration(cfg.Serve.TileCacheTTLMins) * time.Minute
		cache := geospatial.NewTileCache(cfg.Serve.TileCacheSize, ttl)
		tiles := geospatial.NewTileHandler(pool, geospatial.DefaultLayers(), cache)

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Serve.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := st.Ping(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/runs", listRunsHandler(st))
			r.Get("/runs/{id}", getRunHandler(st))
			r.Get("/runs/{id}/overlaps", runOverlapsHandler(geo))
			r.Get("/runs/{id}/states", stateCoverageHandler(geo))
			r.Get("/runs/{id}/states/{fips}/counties", countyCoverageHandler(geo))
			r.Get("/results", resultsHandler(geo))
			r.Get("/status", metricsHandler(st, pool))
		})

		r.Get("/tiles/overlap/{runID}/{z}/{x}/{y}", tiles.ServeOverlap)
		r.Get("/tiles/stats", tiles.StatsHandler)
		r.Get("/tiles/{layer}/{z}/{x}/{y}", tiles.ServeLayer)

		if cfg.Serve.BasemapURL != "" {
			proxy := geospatial.NewTileProxy(cfg.Serve.BasemapURL, cfg.Serve.BasemapFormat,
				geospatial.NewTileCache(cfg.Serve.TileCacheSize, ttl))
			r.Get("/basemap/{z}/{x}/{y}", proxy.ServeHTTP)
		}

		if cfg.Monitoring.WebhookURL != "" {
			boundaries := monitoring.BoundaryStatusFunc(func(ctx context.Context) ([]tiger.StatusRow, error) {
				return tiger.LoadStatus(ctx, pool)
			})
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, boundaries),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := cfg.Serve.Port
		if servePort != 0 {
			port = servePort
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("serving", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func listRunsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RunFilter{
			Status: model.RunStatus(q.Get("status")),
			Label:  q.Get("label"),
			Limit:  50,
		}
		runs, err := st.ListRuns(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, runs)
	}
}

func getRunHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, run)
	}
}

func runOverlapsHandler(geo geospatial.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overlaps, err := geo.ListRunOverlaps(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, overlaps)
	}
}

func stateCoverageHandler(geo geospatial.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := geo.ListStateCoverage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	}
}

func countyCoverageHandler(geo geospatial.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := geo.ListCountyCoverage(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "fips"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	}
}

func resultsHandler(geo geospatial.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := geo.ListAnalysisResults(r.Context(), 100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, results)
	}
}

func metricsHandler(st store.Store, pool *pgxpool.Pool) http.HandlerFunc {
	boundaries := monitoring.BoundaryStatusFunc(func(ctx context.Context) ([]tiger.StatusRow, error) {
		return tiger.LoadStatus(ctx, pool)
	})
	collector := monitoring.NewCollector(st, boundaries)
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := collector.Collect(r.Context(), cfg.Monitoring.LookbackHours)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, snap)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

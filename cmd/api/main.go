// Package main implements the GustoMap API server: semantic restaurant
// search, viewport heatmaps, and the entity catalog.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/heatmap"
	"github.com/gustomap/gustomap/engine/search"
	"github.com/gustomap/gustomap/engine/semantic"
	"github.com/gustomap/gustomap/engine/table"
	"github.com/gustomap/gustomap/pkg/metrics"
	"github.com/gustomap/gustomap/pkg/mid"
	"github.com/gustomap/gustomap/pkg/ollama"
)

var met = metrics.New()

var (
	mSearches  = met.Counter("gustomap_api_searches_total", "Search requests served")
	mHeatmaps  = met.Counter("gustomap_api_heatmaps_total", "Heatmap requests served")
	mReindexes = met.Counter("gustomap_api_reindex_total", "Index rebuilds requested")
	mIndexSize = met.Gauge("gustomap_api_index_vectors", "Review vectors in the live index")
	mSearchDur = met.Histogram("gustomap_api_search_duration_seconds", "Search latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	OllamaURL   string
	OllamaModel string
	QdrantURL   string
	Collection  string
	EntitiesCSV string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_MODEL", ollama.DefaultModel),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "gustomap"),
		EntitiesCSV: envOr("ENTITIES_CSV", "data/restaurants.csv"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app carries the request-time state shared by all handlers.
type app struct {
	search   *search.Service
	entities atomic.Pointer[[]domain.Entity]
	latest   atomic.Pointer[[]domain.SearchResult]
	csvPath  string
	logger   *slog.Logger
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel)
	svc := search.NewService(embedder, vectorStore)

	a := &app{search: svc, csvPath: cfg.EntitiesCSV, logger: logger}
	a.latest.Store(&[]domain.SearchResult{})

	entities, err := table.LoadEntities(cfg.EntitiesCSV)
	if err != nil {
		logger.Warn("entity catalog not loaded, starting empty", "path", cfg.EntitiesCSV, "err", err)
		entities = nil
	}
	a.entities.Store(&entities)

	if err := svc.BuildFromStore(ctx, entities); err != nil {
		logger.Warn("index rebuild from vector store failed, starting empty", "err", err)
	} else {
		mIndexSize.Set(int64(svc.Index().Len()))
		logger.Info("index ready",
			"vectors", svc.Index().Len(), "entities", svc.Index().Entities())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search", a.handleSearch)
	mux.HandleFunc("GET /api/heatmap", a.handleHeatmap)
	mux.HandleFunc("GET /api/restaurants", a.handleRestaurants)
	mux.HandleFunc("POST /api/reindex", a.handleReindex)
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("gustomap-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Query       string `json:"query"`
	Aggregation string `json:"aggregation,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Results     []domain.SearchResult `json:"results"`
	Count       int                   `json:"count"`
	Aggregation string                `json:"aggregation"`
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agg, err := search.ParseAggregation(req.Aggregation)
	if err != nil {
		writeError(w, http.StatusBadRequest, "aggregation must be max or mean")
		return
	}

	start := time.Now()
	results, err := a.search.Search(r.Context(), req.Query, agg, req.TopK)
	if err != nil {
		a.writeDomainError(w, "search", err)
		return
	}
	mSearches.Inc()
	mSearchDur.Observe(time.Since(start).Seconds())

	a.latest.Store(&results)
	writeJSON(w, http.StatusOK, SearchResponse{
		Results:     results,
		Count:       len(results),
		Aggregation: string(agg),
	})
}

func (a *app) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		view      domain.Bounds
		threshold float64
		tiles     float64 = heatmap.DefaultBudget
	)
	// All four bounds are required; threshold and tile budget have defaults.
	for _, p := range []struct {
		key      string
		dst      *float64
		required bool
	}{
		{"min_lat", &view.MinLat, true},
		{"max_lat", &view.MaxLat, true},
		{"min_lng", &view.MinLng, true},
		{"max_lng", &view.MaxLng, true},
		{"threshold", &threshold, false},
		{"tiles", &tiles, false},
	} {
		s := q.Get(p.key)
		if s == "" {
			if p.required {
				writeError(w, http.StatusBadRequest, p.key+" is required")
				return
			}
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, p.key+" must be a number")
			return
		}
		*p.dst = v
	}

	m, err := heatmap.Build(view, *a.latest.Load(), threshold, int(tiles))
	if err != nil {
		a.writeDomainError(w, "heatmap", err)
		return
	}
	mHeatmaps.Inc()
	writeJSON(w, http.StatusOK, m)
}

// RestaurantsResponse is the JSON response for GET /api/restaurants.
type RestaurantsResponse struct {
	Restaurants []domain.Entity `json:"restaurants"`
	Count       int             `json:"count"`
}

func (a *app) handleRestaurants(w http.ResponseWriter, r *http.Request) {
	entities := *a.entities.Load()
	if zone := r.URL.Query().Get("zone"); zone != "" {
		var filtered []domain.Entity
		for _, e := range entities {
			if strings.EqualFold(e.Zone, zone) {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	writeJSON(w, http.StatusOK, RestaurantsResponse{Restaurants: entities, Count: len(entities)})
}

func (a *app) handleReindex(w http.ResponseWriter, r *http.Request) {
	entities, err := table.LoadEntities(a.csvPath)
	if err != nil {
		a.writeDomainError(w, "reindex", fmt.Errorf("load catalog: %w", err))
		return
	}
	a.entities.Store(&entities)

	if err := a.search.BuildFromStore(r.Context(), entities); err != nil {
		a.writeDomainError(w, "reindex", err)
		return
	}
	mReindexes.Inc()
	mIndexSize.Set(int64(a.search.Index().Len()))
	writeJSON(w, http.StatusOK, map[string]any{
		"vectors":  a.search.Index().Len(),
		"entities": a.search.Index().Entities(),
	})
}

// --- Helpers ---

func (a *app) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExternalService):
		a.logger.Error(op+" upstream failed", "err", err)
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		a.logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

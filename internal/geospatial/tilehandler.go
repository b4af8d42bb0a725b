package geospatial

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/db"
)

const mvtContentType = "application/vnd.mapbox-vector-tile"

// TileHandler serves MVT vector tiles over HTTP. It expects to be
// mounted on a chi router with {layer}/{z}/{x}/{y} URL parameters.
type TileHandler struct {
	pool   db.Pool
	layers map[string]LayerConfig
	cache  *TileCache
}

// NewTileHandler creates a new MVT tile HTTP handler.
func NewTileHandler(pool db.Pool, layers map[string]LayerConfig, cache *TileCache) *TileHandler {
	return &TileHandler{
		pool:   pool,
		layers: layers,
		cache:  cache,
	}
}

// ServeLayer handles GET /tiles/{layer}/{z}/{x}/{y}.pbf.
func (h *TileHandler) ServeLayer(w http.ResponseWriter, r *http.Request) {
	layerName := chi.URLParam(r, "layer")
	layer, ok := h.layers[layerName]
	if !ok {
		http.Error(w, "unknown layer", http.StatusNotFound)
		return
	}

	z, x, y, ok := tileCoords(w, r)
	if !ok {
		return
	}

	if z < layer.MinZoom || z > layer.MaxZoom {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if h.serveCached(w, layerName, z, x, y) {
		return
	}

	tile, err := GenerateMVT(r.Context(), h.pool, layer, z, x, y)
	if err != nil {
		zap.L().Error("coverage: tile generation failed",
			zap.String("layer", layerName),
			zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
			zap.Error(err),
		)
		http.Error(w, "tile generation failed", http.StatusInternalServerError)
		return
	}

	h.respond(w, layerName, z, x, y, tile)
}

// ServeOverlap handles GET /tiles/overlap/{runID}/{z}/{x}/{y}.pbf: the
// run-scoped choropleth of unit overlap fractions.
func (h *TileHandler) ServeOverlap(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}

	z, x, y, ok := tileCoords(w, r)
	if !ok {
		return
	}

	cacheLayer := OverlapLayerKey(runID)
	if h.serveCached(w, cacheLayer, z, x, y) {
		return
	}

	tile, err := GenerateOverlapMVT(r.Context(), h.pool, runID, z, x, y)
	if err != nil {
		zap.L().Error("coverage: overlap tile generation failed",
			zap.String("run_id", runID),
			zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
			zap.Error(err),
		)
		http.Error(w, "tile generation failed", http.StatusInternalServerError)
		return
	}

	h.respond(w, cacheLayer, z, x, y, tile)
}

// StatsHandler returns cache statistics as plain text.
func (h *TileHandler) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	if h.cache == nil {
		_, _ = w.Write([]byte("cache disabled"))
		return
	}
	stats := h.cache.Stats()
	_, _ = fmt.Fprintf(w, "entries=%d max=%d hits=%d misses=%d rate=%.2f%%\n",
		stats.Entries, stats.MaxEntries, stats.Hits, stats.Misses, stats.HitRate*100)
}

// InvalidateRun drops any cached choropleth tiles for the run.
func (h *TileHandler) InvalidateRun(runID string) {
	if h.cache != nil {
		h.cache.Invalidate(OverlapLayerKey(runID))
	}
}

func (h *TileHandler) serveCached(w http.ResponseWriter, layer string, z, x, y int) bool {
	if h.cache == nil {
		return false
	}
	cached := h.cache.Get(layer, z, x, y)
	if cached == nil {
		return false
	}
	w.Header().Set("Content-Type", mvtContentType)
	w.Header().Set("X-Cache", "hit")
	_, _ = w.Write(cached)
	return true
}

func (h *TileHandler) respond(w http.ResponseWriter, layer string, z, x, y int, tile []byte) {
	if h.cache != nil {
		h.cache.Put(layer, z, x, y, tile)
	}
	w.Header().Set("Content-Type", mvtContentType)
	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(tile)
}

// tileCoords parses the z/x/y URL parameters, writing a 400 on failure.
// The y parameter may carry a .pbf suffix.
func tileCoords(w http.ResponseWriter, r *http.Request) (z, x, y int, ok bool) {
	var err error
	if z, err = strconv.Atoi(chi.URLParam(r, "z")); err != nil {
		http.Error(w, "invalid z coordinate", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	if x, err = strconv.Atoi(chi.URLParam(r, "x")); err != nil {
		http.Error(w, "invalid x coordinate", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	yStr := strings.TrimSuffix(chi.URLParam(r, "y"), ".pbf")
	if y, err = strconv.Atoi(yStr); err != nil {
		http.Error(w, "invalid y coordinate", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	return z, x, y, true
}

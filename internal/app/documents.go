package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MithilHassan/kbt-express/internal/barcode"
	"github.com/MithilHassan/kbt-express/internal/document"
	jobmetrics "github.com/MithilHassan/kbt-express/internal/jobs"
	"github.com/MithilHassan/kbt-express/internal/platform/cache"
	"github.com/MithilHassan/kbt-express/internal/render"
)

// Cache key prefixes.
const (
	DocumentCachePrefix = "kbt:document"
	TrackingCachePrefix = "kbt:tracking"
)

// NewDocumentPipeline assembles the compose, encode, rasterize and assemble
// stages from configuration. client may be nil to disable the document cache.
func NewDocumentPipeline(cfg *Config, source render.Source, client redis.Cmdable, metrics *jobmetrics.Metrics, logger *slog.Logger) (*render.Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	raster, err := render.NewRasterizer(cfg.RenderScale)
	if err != nil {
		return nil, fmt.Errorf("init rasterizer: %w", err)
	}
	var store *cache.Store
	if client != nil {
		store = cache.NewStore(client, DocumentCachePrefix, cfg.DocumentCacheTTL)
	}
	return render.NewPipeline(
		source,
		document.NewComposer(cfg.Company(), cfg.Policy(), loc),
		barcode.NewEncoder(cfg.Barcode()),
		raster,
		store,
		metrics,
		logger,
		render.Options{
			Workers: cfg.RenderWorkers,
			Timeout: cfg.RenderTimeout,
			BleedMM: cfg.RenderBleedMM,
		},
	), nil
}

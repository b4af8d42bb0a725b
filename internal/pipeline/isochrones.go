package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/geospatial"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/resilience"
	"github.com/careatlas/reachstat/internal/store"
	"github.com/careatlas/reachstat/pkg/isochrone"
)

// FetchIsochrones fetches reachability polygons for every location and
// queues failed fetches to the dead letter queue instead of failing the run.
// When a geospatial store is attached, fresh (non-cached) isochrones are also
// persisted to PostGIS for map tiles.
func FetchIsochrones(
	ctx context.Context,
	iso isochrone.Client,
	st store.Store,
	geo geospatial.Store,
	locs []model.Location,
	profile string,
	rangeMinutes int,
	maxRetries int,
) (*isochrone.BatchResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.isochrones"))

	rangeSeconds := rangeMinutes * 60
	batch, err := iso.FetchBatch(ctx, locs, rangeSeconds)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch isochrones")
	}

	for _, failed := range batch.Failed {
		entry := resilience.NewDLQEntry(failed.Location, profile, rangeSeconds, failed.Err, maxRetries)
		if dlqErr := st.EnqueueDLQ(ctx, entry); dlqErr != nil {
			log.Warn("failed to enqueue dead letter entry",
				zap.String("location_id", failed.Location.ID),
				zap.Error(dlqErr),
			)
			continue
		}
		log.Warn("isochrone fetch failed, queued for retry",
			zap.String("location_id", failed.Location.ID),
			zap.String("error_type", resilience.ClassifyError(failed.Err)),
			zap.Error(failed.Err),
		)
	}

	if geo != nil {
		persistIsochrones(ctx, geo, batch.Isochrones, log)
	}

	log.Info("isochrone fetch complete",
		zap.Int("fetched", len(batch.Isochrones)),
		zap.Int("failed", len(batch.Failed)),
	)
	return batch, nil
}

// persistIsochrones writes freshly fetched polygons to the geospatial store.
// Cached isochrones are already there; persistence failures are logged and
// skipped because PostGIS is a projection of the cache, not the cache itself.
func persistIsochrones(ctx context.Context, geo geospatial.Store, isos []isochrone.Isochrone, log *zap.Logger) {
	var saved int
	for i := range isos {
		if isos[i].FromCache {
			continue
		}
		stored := &geospatial.StoredIsochrone{
			FacilityID:   isos[i].LocationID,
			Profile:      isos[i].Profile,
			RangeSeconds: isos[i].RangeSeconds,
			Geom:         isos[i].Geom,
			GeoJSON:      isos[i].GeoJSON,
			FetchedAt:    time.Now().UTC(),
		}
		if err := geo.SaveIsochrone(ctx, stored); err != nil {
			log.Warn("failed to persist isochrone",
				zap.String("facility_id", isos[i].LocationID),
				zap.Error(err),
			)
			continue
		}
		saved++
	}
	if saved > 0 {
		log.Debug("persisted isochrones", zap.Int("saved", saved))
	}
}

// DLQRetryResult summarizes one pass over the dead letter queue.
type DLQRetryResult struct {
	Attempted int
	Succeeded int
	Requeued  int
	Exhausted int
}

// RetryDLQ re-attempts every due dead letter entry. Successful fetches are
// removed from the queue (and persisted when a geospatial store is attached);
// failures push the entry's next retry out, and entries that have used up
// their retry budget are left in place for manual inspection.
func RetryDLQ(
	ctx context.Context,
	iso isochrone.Client,
	st store.Store,
	geo geospatial.Store,
	filter resilience.DLQFilter,
) (*DLQRetryResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.isochrones"))

	entries, err := st.DequeueDLQ(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: dequeue dead letters")
	}

	res := &DLQRetryResult{}
	now := time.Now().UTC()
	for i := range entries {
		entry := entries[i]
		if !entry.CanRetry() {
			res.Exhausted++
			continue
		}
		if !filter.IncludeAll && !entry.Due(now) {
			continue
		}

		res.Attempted++
		fetched, fetchErr := iso.Fetch(ctx, entry.Location, entry.RangeSeconds)
		if fetchErr != nil {
			entry.RecordFailure(fetchErr, time.Now().UTC())
			if entry.CanRetry() {
				res.Requeued++
			} else {
				res.Exhausted++
			}
			if updErr := st.IncrementDLQRetry(ctx, entry.ID, entry.NextRetryAt, entry.Error); updErr != nil {
				log.Warn("failed to update dead letter entry",
					zap.String("id", entry.ID),
					zap.Error(updErr),
				)
			}
			log.Warn("dead letter retry failed",
				zap.String("location_id", entry.Location.ID),
				zap.Int("retry_count", entry.RetryCount),
				zap.Error(fetchErr),
			)
			continue
		}

		if geo != nil {
			persistIsochrones(ctx, geo, []isochrone.Isochrone{*fetched}, log)
		}
		if rmErr := st.RemoveDLQ(ctx, entry.ID); rmErr != nil {
			log.Warn("failed to remove dead letter entry",
				zap.String("id", entry.ID),
				zap.Error(rmErr),
			)
		}
		res.Succeeded++
		log.Info("dead letter retry succeeded",
			zap.String("location_id", entry.Location.ID),
		)
	}

	return res, nil
}

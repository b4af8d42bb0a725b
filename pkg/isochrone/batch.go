package isochrone

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/careatlas/reachstat/internal/model"
)

func (c *orsClient) FetchBatch(ctx context.Context, locs []model.Location, rangeSeconds int) (*BatchResult, error) {
	res := &BatchResult{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for _, loc := range locs {
		g.Go(func() error {
			iso, err := c.Fetch(ctx, loc, rangeSeconds)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, FailedFetch{Location: loc, Err: err})
				return nil
			}
			res.Isochrones = append(res.Isochrones, *iso)
			return nil
		})
	}
	_ = g.Wait()

	// Cancellation aborts the whole batch rather than reporting every
	// remaining location as failed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Isochrones, func(i, j int) bool {
		return res.Isochrones[i].LocationID < res.Isochrones[j].LocationID
	})
	sort.Slice(res.Failed, func(i, j int) bool {
		return res.Failed[i].Location.ID < res.Failed[j].Location.ID
	})
	return res, nil
}

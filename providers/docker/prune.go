package docker

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/testbed/pkg/session"
)

// pruneParallelism bounds concurrent removals within one resource kind.
const pruneParallelism = 8

// PruneReport lists what Prune removed.
type PruneReport struct {
	Containers []string
	Networks   []string
	Volumes    []string
}

// Total is the number of removed objects.
func (r PruneReport) Total() int {
	return len(r.Containers) + len(r.Networks) + len(r.Volumes)
}

// Prune removes every container, network and volume labelled for sessionID, in
// that order. An empty sessionID selects every testbed-managed object. Removal
// continues past individual failures; the report lists what succeeded and the
// error aggregates the rest.
func (c *Client) Prune(ctx context.Context, sessionID string) (PruneReport, error) {
	args := filters.NewArgs(filters.Arg("label", session.LabelManaged+"=true"))
	if sessionID != "" {
		args.Add("label", session.LabelSessionID+"="+sessionID)
	}

	var (
		report PruneReport
		errs   error
	)

	containers, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return report, fmt.Errorf("failed to list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, ctr := range containers {
		ids = append(ids, ctr.ID)
	}
	report.Containers, err = removeAll(ctx, ids, c.RemoveContainer)
	errs = multierr.Append(errs, err)

	networks, err := c.api.NetworkList(ctx, network.ListOptions{Filters: args})
	if err != nil {
		return report, multierr.Append(errs, fmt.Errorf("failed to list networks: %w", err))
	}
	ids = ids[:0]
	for _, n := range networks {
		ids = append(ids, n.ID)
	}
	report.Networks, err = removeAll(ctx, ids, c.RemoveNetwork)
	errs = multierr.Append(errs, err)

	volumes, err := c.api.VolumeList(ctx, volume.ListOptions{Filters: args})
	if err != nil {
		return report, multierr.Append(errs, fmt.Errorf("failed to list volumes: %w", err))
	}
	ids = ids[:0]
	for _, v := range volumes.Volumes {
		if v != nil {
			ids = append(ids, v.Name)
		}
	}
	report.Volumes, err = removeAll(ctx, ids, c.RemoveVolume)
	errs = multierr.Append(errs, err)

	return report, errs
}

// removeAll calls remove for every id and returns the ids removed.
func removeAll(ctx context.Context, ids []string, remove func(context.Context, string) error) ([]string, error) {
	var (
		mu      sync.Mutex
		removed []string
		errs    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pruneParallelism)
	for _, id := range ids {
		g.Go(func() error {
			err := remove(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", id, err))
				return nil
			}
			removed = append(removed, id)
			return nil
		})
	}
	_ = g.Wait()
	return removed, errs
}

// Package stoptree answers questions about the stop hierarchy: which stops
// sit below a set of roots, and which station a stop belongs to.
package stoptree

import (
	"context"
	"fmt"
	"log/slog"

	"transiter.dev/transiter/gtfsdb"
)

type Resolver struct {
	q      *gtfsdb.Queries
	logger *slog.Logger
}

func NewResolver(q *gtfsdb.Queries) *Resolver {
	return &Resolver{
		q:      q,
		logger: slog.Default().With(slog.String("component", "stoptree")),
	}
}

// Descendants maps every root pk to the set of stops in its subtree, the root
// included. With stationsOnly only station and grouped station stops are
// reported and walked through below the root. Roots that do not exist are
// absent from the result.
func (r *Resolver) Descendants(ctx context.Context, rootPks []int64, stationsOnly bool) (map[int64]map[int64]struct{}, error) {
	out := map[int64]map[int64]struct{}{}
	if len(rootPks) == 0 {
		return out, nil
	}
	rows, err := r.q.ListDescendantStops(ctx, rootPks, stationsOnly)
	if err != nil {
		return nil, fmt.Errorf("resolve stop descendants: %w", err)
	}
	for _, row := range rows {
		set, ok := out[row.RootPk]
		if !ok {
			set = map[int64]struct{}{}
			out[row.RootPk] = set
		}
		set[row.Pk] = struct{}{}
	}
	r.logger.Debug("stop_descendants_resolved",
		slog.Int("roots", len(rootPks)),
		slog.Int("rows", len(rows)))
	return out, nil
}

// StationPkForStops maps each stop pk to the pk of the top-level stop of its
// tree. A parentless stop maps to itself.
func (r *Resolver) StationPkForStops(ctx context.Context, stopPks []int64) (map[int64]int64, error) {
	out := map[int64]int64{}
	if len(stopPks) == 0 {
		return out, nil
	}
	rows, err := r.q.ListTopLevelAncestors(ctx, stopPks)
	if err != nil {
		return nil, fmt.Errorf("resolve stations: %w", err)
	}
	for _, row := range rows {
		out[row.RootPk] = row.Pk
	}
	return out, nil
}

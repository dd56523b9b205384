// Package transfers builds geographic transfers between the stops of
// different transit systems and manages the configs that persist them.
package transfers

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tidwall/rtree"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/parse"
	"transiter.dev/transiter/internal/utils"
)

// Transfer is a directed transfer between stops of two systems.
type Transfer struct {
	FromSystemID string
	FromStopID   string
	FromStopPk   int64
	ToSystemID   string
	ToStopID     string
	ToStopPk     int64
	Type         parse.TransferType
	Distance     float64
}

type Builder struct {
	q      *gtfsdb.Queries
	logger *slog.Logger
}

func NewBuilder(q *gtfsdb.Queries) *Builder {
	return &Builder{
		q:      q,
		logger: slog.Default().With(slog.String("component", "transfers_builder")),
	}
}

type candidate struct {
	stop     gtfsdb.Stop
	systemID string
}

// Build returns a transfer in each direction for every pair of top-level
// stops in different systems at most maxDistance meters apart, ordered by
// distance then by system and stop ids.
func (b *Builder) Build(ctx context.Context, systemIDs []string, maxDistance float64) ([]Transfer, error) {
	systems, err := b.systems(ctx, systemIDs)
	if err != nil {
		return nil, err
	}
	if maxDistance < 0 {
		return nil, apperrors.InvalidInputf("distance must not be negative, got %v", maxDistance)
	}

	systemPks := make([]int64, 0, len(systems))
	systemIDByPk := map[int64]string{}
	for _, system := range systems {
		systemPks = append(systemPks, system.Pk)
		systemIDByPk[system.Pk] = system.ID
	}
	stops, err := b.q.ListTopLevelStops(ctx, systemPks)
	if err != nil {
		return nil, fmt.Errorf("list top level stops: %w", err)
	}

	var tree rtree.RTreeG[candidate]
	for _, stop := range stops {
		point := [2]float64{stop.Longitude, stop.Latitude}
		tree.Insert(point, point, candidate{stop: stop, systemID: systemIDByPk[stop.SystemPk]})
	}

	var transfers []Transfer
	for _, stop := range stops {
		from := candidate{stop: stop, systemID: systemIDByPk[stop.SystemPk]}
		for _, box := range searchBoxes(utils.CalculateBounds(stop.Latitude, stop.Longitude, maxDistance)) {
			tree.Search(box[0], box[1], func(_, _ [2]float64, to candidate) bool {
				if to.stop.SystemPk == from.stop.SystemPk {
					return true
				}
				distance := utils.Distance(from.stop.Latitude, from.stop.Longitude, to.stop.Latitude, to.stop.Longitude)
				if distance > maxDistance {
					return true
				}
				transfers = append(transfers, Transfer{
					FromSystemID: from.systemID,
					FromStopID:   from.stop.ID,
					FromStopPk:   from.stop.Pk,
					ToSystemID:   to.systemID,
					ToStopID:     to.stop.ID,
					ToStopPk:     to.stop.Pk,
					Type:         parse.TransferGeographic,
					Distance:     distance,
				})
				return true
			})
		}
	}

	slices.SortFunc(transfers, compareTransfers)
	transfers = slices.CompactFunc(transfers, func(a, b Transfer) bool {
		return a.FromStopPk == b.FromStopPk && a.ToStopPk == b.ToStopPk
	})

	logging.LogOperation(b.logger, "transfers_built",
		slog.Int("systems", len(systems)),
		slog.Int("stops", len(stops)),
		slog.Int("transfers", len(transfers)),
		slog.Float64("max_distance", maxDistance))
	return transfers, nil
}

func compareTransfers(a, b Transfer) int {
	return cmp.Or(
		cmp.Compare(a.Distance, b.Distance),
		cmp.Compare(a.FromSystemID, b.FromSystemID),
		cmp.Compare(a.FromStopID, b.FromStopID),
		cmp.Compare(a.ToSystemID, b.ToSystemID),
		cmp.Compare(a.ToStopID, b.ToStopID),
	)
}

// systems resolves the distinct system ids, in the order given.
func (b *Builder) systems(ctx context.Context, systemIDs []string) ([]gtfsdb.System, error) {
	var distinct []string
	for _, id := range systemIDs {
		if !slices.Contains(distinct, id) {
			distinct = append(distinct, id)
		}
	}
	if len(distinct) < 2 {
		return nil, apperrors.InvalidInputf("at least two distinct systems are needed to build transfers, got %d", len(distinct))
	}
	systems := make([]gtfsdb.System, 0, len(distinct))
	for _, id := range distinct {
		system, err := b.q.GetSystem(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperrors.IdNotFoundError{Kind: "system", ID: id}
		}
		if err != nil {
			return nil, fmt.Errorf("get system %q: %w", id, err)
		}
		systems = append(systems, system)
	}
	return systems, nil
}

// searchBoxes splits bounds that cross the antimeridian into boxes within
// [-180, 180] longitude, as [min, max] corners in (lon, lat) order.
func searchBoxes(bounds utils.CoordinateBounds) [][2][2]float64 {
	box := func(minLon, maxLon float64) [2][2]float64 {
		return [2][2]float64{{minLon, bounds.MinLat}, {maxLon, bounds.MaxLat}}
	}
	boxes := [][2][2]float64{box(bounds.MinLon, bounds.MaxLon)}
	if bounds.MinLon < -180 {
		boxes = append(boxes, box(bounds.MinLon+360, 180))
	}
	if bounds.MaxLon > 180 {
		boxes = append(boxes, box(-180, bounds.MaxLon-360))
	}
	return boxes
}

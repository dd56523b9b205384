package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/parse"
)

// Config is a persisted transfers config and the transfers it generated.
type Config struct {
	Pk        int64
	Distance  float64
	SystemIDs []string
	Transfers []Transfer
}

// Service manages transfers configs. Each config owns the transfers built
// from it; rebuilding or deleting the config replaces or removes them.
type Service struct {
	client *gtfsdb.Client
	logger *slog.Logger
}

func NewService(client *gtfsdb.Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With(slog.String("component", "transfers_service")),
	}
}

// Preview builds the transfers a config would create without saving them.
func (s *Service) Preview(ctx context.Context, systemIDs []string, distance float64) ([]Transfer, error) {
	return NewBuilder(s.client.Queries).Build(ctx, systemIDs, distance)
}

// Create saves a new config and its transfers and returns the config pk.
func (s *Service) Create(ctx context.Context, systemIDs []string, distance float64) (int64, error) {
	var pk int64
	err := s.client.InTx(ctx, "create_transfers_config", func(_ *sql.Tx, q *gtfsdb.Queries) error {
		transfers, err := NewBuilder(q).Build(ctx, systemIDs, distance)
		if err != nil {
			return err
		}
		pk, err = q.InsertTransfersConfig(ctx, distance)
		if err != nil {
			return err
		}
		return s.save(ctx, q, pk, systemIDs, transfers)
	})
	if err != nil {
		return 0, err
	}
	logging.LogOperation(s.logger, "transfers_config_created",
		slog.Int64("config_pk", pk),
		slog.Any("system_ids", systemIDs))
	return pk, nil
}

// Update rebuilds the config's transfers. A nil systemIDs or distance keeps
// the current value.
func (s *Service) Update(ctx context.Context, pk int64, systemIDs []string, distance *float64) error {
	err := s.client.InTx(ctx, "update_transfers_config", func(_ *sql.Tx, q *gtfsdb.Queries) error {
		config, err := getConfig(ctx, q, pk)
		if err != nil {
			return err
		}
		if systemIDs == nil {
			systemIDs, err = q.ListTransfersConfigSystemIDs(ctx, pk)
			if err != nil {
				return err
			}
		}
		if distance == nil {
			distance = &config.Distance
		}
		transfers, err := NewBuilder(q).Build(ctx, systemIDs, *distance)
		if err != nil {
			return err
		}
		if err := q.UpdateTransfersConfig(ctx, pk, *distance); err != nil {
			return err
		}
		if err := q.DeleteTransfersConfigSystems(ctx, pk); err != nil {
			return err
		}
		if err := q.DeleteConfigTransfers(ctx, pk); err != nil {
			return err
		}
		return s.save(ctx, q, pk, systemIDs, transfers)
	})
	if err != nil {
		return err
	}
	logging.LogOperation(s.logger, "transfers_config_updated", slog.Int64("config_pk", pk))
	return nil
}

func (s *Service) save(ctx context.Context, q *gtfsdb.Queries, pk int64, systemIDs []string, transfers []Transfer) error {
	linked := map[string]bool{}
	for _, id := range systemIDs {
		if linked[id] {
			continue
		}
		linked[id] = true
		system, err := q.GetSystem(ctx, id)
		if err != nil {
			return fmt.Errorf("get system %q: %w", id, err)
		}
		if err := q.InsertTransfersConfigSystem(ctx, pk, system.Pk); err != nil {
			return err
		}
	}
	for _, transfer := range transfers {
		from, err := q.GetSystem(ctx, transfer.FromSystemID)
		if err != nil {
			return err
		}
		err = q.InsertConfigTransfer(ctx, gtfsdb.InsertConfigTransferParams{
			SystemPk:       from.Pk,
			ConfigSourcePk: pk,
			FromStopPk:     transfer.FromStopPk,
			ToStopPk:       transfer.ToStopPk,
			Type:           string(transfer.Type),
			Distance:       sql.NullFloat64{Float64: transfer.Distance, Valid: true},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the config with its systems and transfers.
func (s *Service) Get(ctx context.Context, pk int64) (Config, error) {
	q := s.client.Queries
	config, err := getConfig(ctx, q, pk)
	if err != nil {
		return Config{}, err
	}
	out, err := describe(ctx, q, config)
	if err != nil {
		return Config{}, err
	}
	rows, err := q.ListConfigTransfers(ctx, pk)
	if err != nil {
		return Config{}, err
	}
	for _, row := range rows {
		out.Transfers = append(out.Transfers, Transfer{
			FromSystemID: row.FromSystemID,
			FromStopID:   row.FromStopID,
			ToSystemID:   row.ToSystemID,
			ToStopID:     row.ToStopID,
			Type:         parse.TransferType(row.Type),
			Distance:     row.Distance.Float64,
		})
	}
	return out, nil
}

// List returns every config without its transfers.
func (s *Service) List(ctx context.Context) ([]Config, error) {
	configs, err := s.client.Queries.ListTransfersConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Config, 0, len(configs))
	for _, config := range configs {
		c, err := describe(ctx, s.client.Queries, config)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Delete removes the config and its transfers.
func (s *Service) Delete(ctx context.Context, pk int64) error {
	n, err := s.client.Queries.DeleteTransfersConfig(ctx, pk)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(pk)
	}
	logging.LogOperation(s.logger, "transfers_config_deleted", slog.Int64("config_pk", pk))
	return nil
}

func getConfig(ctx context.Context, q *gtfsdb.Queries, pk int64) (gtfsdb.TransfersConfig, error) {
	config, err := q.GetTransfersConfig(ctx, pk)
	if errors.Is(err, sql.ErrNoRows) {
		return config, notFound(pk)
	}
	return config, err
}

func describe(ctx context.Context, q *gtfsdb.Queries, config gtfsdb.TransfersConfig) (Config, error) {
	systemIDs, err := q.ListTransfersConfigSystemIDs(ctx, config.Pk)
	if err != nil {
		return Config{}, err
	}
	return Config{Pk: config.Pk, Distance: config.Distance, SystemIDs: systemIDs}, nil
}

func notFound(pk int64) error {
	return &apperrors.IdNotFoundError{Kind: "transfers config", ID: fmt.Sprint(pk)}
}

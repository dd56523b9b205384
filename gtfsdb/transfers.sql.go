package gtfsdb

import (
	"context"
	"database/sql"
)

const insertTransfersConfig = `
INSERT INTO transfers_config (distance) VALUES (?) RETURNING pk
`

func (q *Queries) InsertTransfersConfig(ctx context.Context, distance float64) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertTransfersConfig, distance)
	var pk int64
	err := row.Scan(&pk)
	return pk, err
}

const updateTransfersConfig = `
UPDATE transfers_config SET distance = ? WHERE pk = ?
`

func (q *Queries) UpdateTransfersConfig(ctx context.Context, pk int64, distance float64) error {
	_, err := q.db.ExecContext(ctx, updateTransfersConfig, distance, pk)
	return err
}

const getTransfersConfig = `
SELECT pk, distance FROM transfers_config WHERE pk = ?
`

func (q *Queries) GetTransfersConfig(ctx context.Context, pk int64) (TransfersConfig, error) {
	row := q.db.QueryRowContext(ctx, getTransfersConfig, pk)
	var i TransfersConfig
	err := row.Scan(&i.Pk, &i.Distance)
	return i, err
}

const listTransfersConfigs = `
SELECT pk, distance FROM transfers_config ORDER BY pk
`

func (q *Queries) ListTransfersConfigs(ctx context.Context) ([]TransfersConfig, error) {
	rows, err := q.db.QueryContext(ctx, listTransfersConfigs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransfersConfig
	for rows.Next() {
		var i TransfersConfig
		if err := rows.Scan(&i.Pk, &i.Distance); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteTransfersConfig = `
DELETE FROM transfers_config WHERE pk = ?
`

func (q *Queries) DeleteTransfersConfig(ctx context.Context, pk int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransfersConfig, pk)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertTransfersConfigSystem = `
INSERT INTO transfers_config_system (transfers_config_pk, system_pk) VALUES (?, ?)
`

func (q *Queries) InsertTransfersConfigSystem(ctx context.Context, configPk, systemPk int64) error {
	_, err := q.db.ExecContext(ctx, insertTransfersConfigSystem, configPk, systemPk)
	return err
}

const deleteTransfersConfigSystems = `
DELETE FROM transfers_config_system WHERE transfers_config_pk = ?
`

func (q *Queries) DeleteTransfersConfigSystems(ctx context.Context, configPk int64) error {
	_, err := q.db.ExecContext(ctx, deleteTransfersConfigSystems, configPk)
	return err
}

const listTransfersConfigSystemIDs = `
SELECT system.id
FROM transfers_config_system
    JOIN system ON system.pk = transfers_config_system.system_pk
WHERE transfers_config_system.transfers_config_pk = ?
ORDER BY system.id
`

func (q *Queries) ListTransfersConfigSystemIDs(ctx context.Context, configPk int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listTransfersConfigSystemIDs, configPk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteConfigTransfers = `
DELETE FROM transfer WHERE config_source_pk = ?
`

func (q *Queries) DeleteConfigTransfers(ctx context.Context, configPk int64) error {
	_, err := q.db.ExecContext(ctx, deleteConfigTransfers, configPk)
	return err
}

const insertConfigTransfer = `
INSERT INTO transfer (system_pk, config_source_pk, from_stop_pk, to_stop_pk, type, distance)
VALUES (?, ?, ?, ?, ?, ?)
`

type InsertConfigTransferParams struct {
	SystemPk       int64
	ConfigSourcePk int64
	FromStopPk     int64
	ToStopPk       int64
	Type           string
	Distance       sql.NullFloat64
}

func (q *Queries) InsertConfigTransfer(ctx context.Context, arg InsertConfigTransferParams) error {
	_, err := q.db.ExecContext(ctx, insertConfigTransfer,
		arg.SystemPk, arg.ConfigSourcePk, arg.FromStopPk, arg.ToStopPk, arg.Type, arg.Distance,
	)
	return err
}

const listConfigTransfers = `
SELECT
    from_system.id, from_stop.id, to_system.id, to_stop.id, transfer.type, transfer.distance
FROM transfer
    JOIN stop AS from_stop ON from_stop.pk = transfer.from_stop_pk
    JOIN system AS from_system ON from_system.pk = from_stop.system_pk
    JOIN stop AS to_stop ON to_stop.pk = transfer.to_stop_pk
    JOIN system AS to_system ON to_system.pk = to_stop.system_pk
WHERE transfer.config_source_pk = ?
ORDER BY transfer.distance, from_system.id, from_stop.id, to_system.id, to_stop.id
`

type ListConfigTransfersRow struct {
	FromSystemID string
	FromStopID   string
	ToSystemID   string
	ToStopID     string
	Type         string
	Distance     sql.NullFloat64
}

func (q *Queries) ListConfigTransfers(ctx context.Context, configPk int64) ([]ListConfigTransfersRow, error) {
	rows, err := q.db.QueryContext(ctx, listConfigTransfers, configPk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListConfigTransfersRow
	for rows.Next() {
		var i ListConfigTransfersRow
		if err := rows.Scan(
			&i.FromSystemID,
			&i.FromStopID,
			&i.ToSystemID,
			&i.ToStopID,
			&i.Type,
			&i.Distance,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

package gtfsdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"transiter.dev/transiter/internal/logging"
)

// PrintSimpleSchema writes every table, index and trigger definition to w.
func (c *Client) PrintSimpleSchema(ctx context.Context, w io.Writer) error {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT type, name, sql
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'view', 'trigger')
		  AND name NOT LIKE 'sqlite_%'
		  AND sql IS NOT NULL
		ORDER BY type, name
	`)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	for rows.Next() {
		var objType, objName, objSQL string
		if err := rows.Scan(&objType, &objName, &objSQL); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n%s\n\n", strings.ToUpper(objType), objName, objSQL); err != nil {
			return err
		}
	}
	return rows.Err()
}

var countedTables = []string{
	"system",
	"feed",
	"feed_update",
	"agency",
	"route",
	"stop",
	"shape",
	"scheduled_service",
	"scheduled_trip",
	"scheduled_trip_stop_time",
	"trip",
	"trip_stop_time",
	"vehicle",
	"alert",
	"alert_active_period",
	"transfer",
	"transfers_config",
}

// TableCounts returns the row count of each known table that exists.
func (c *Client) TableCounts(ctx context.Context) (map[string]int, error) {
	rows, err := c.DB.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}

	existing := map[string]bool{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		existing[tableName] = true
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range countedTables {
		if !existing[table] {
			continue
		}
		var count int
		if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}

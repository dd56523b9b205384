package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"transiter.dev/transiter/internal/logging"
)

// Client is the main entry point for the storage layer
type Client struct {
	config  Config
	DB      *sql.DB
	Queries *Queries
	logger  *slog.Logger
}

// NewClient opens the database described by config and migrates it
func NewClient(config Config) (*Client, error) {
	logger := slog.Default().With(slog.String("component", "gtfsdb"))
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	} else if config.verbose {
		logging.LogOperation(logger, "database_ready", slog.String("path", config.DBPath))
	}

	client := &Client{
		config:  config,
		DB:      db,
		Queries: New(db),
		logger:  logger,
	}
	return client, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

// InTx runs fn inside a single transaction, committing when fn returns nil.
// The operation name is used for logging a failed rollback.
func (c *Client) InTx(ctx context.Context, operation string, fn func(*sql.Tx, *Queries) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", operation, err)
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, operation)

	if err := fn(tx, c.Queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", operation, err)
	}
	return nil
}

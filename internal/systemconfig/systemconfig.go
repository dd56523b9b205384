// Package systemconfig loads transit system definitions from YAML and
// installs them into the database.
package systemconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/parse"
)

// SystemConfig is the YAML definition of a system, for example
//
//	id: nyc
//	name: New York City Subway
//	timezone: America/New_York
//	feeds:
//	  - id: gtfs
//	    parser: GTFS_STATIC
//	    url: https://feeds.example/gtfs.zip
//	    transfers:
//	      strategy: group_stations
//	  - id: realtime
//	    parser: GTFS_REALTIME
//	    url: https://feeds.example/realtime
//	    headers: {x-api-key: secret}
//	    period: 30s
type SystemConfig struct {
	ID       string       `yaml:"id" validate:"required"`
	Name     string       `yaml:"name" validate:"required"`
	Timezone string       `yaml:"timezone" validate:"omitempty,timezone"`
	Feeds    []FeedConfig `yaml:"feeds" validate:"unique=ID,dive"`
}

type FeedConfig struct {
	ID     string `yaml:"id" validate:"required"`
	Parser string `yaml:"parser" validate:"required,oneof=GTFS_STATIC GTFS_REALTIME"`
	// Exactly one of URL and Path is set.
	URL         string            `yaml:"url" validate:"omitempty,url,excluded_with=Path"`
	Path        string            `yaml:"path" validate:"required_without=URL"`
	Headers     map[string]string `yaml:"headers"`
	HTTPTimeout time.Duration     `yaml:"http_timeout" validate:"gte=0"`
	// Period enables scheduled updates. Zero means updates run on demand only.
	Period               time.Duration `yaml:"period" validate:"gte=0"`
	Gzip                 bool          `yaml:"gzip"`
	Transfers            yaml.Node     `yaml:"transfers" validate:"-"`
	ExtensionFieldNumber *int32        `yaml:"extension_field_number" validate:"omitempty,gte=1,lte=536870911"`
	Timezone             string        `yaml:"timezone" validate:"omitempty,timezone"`
}

var configValidator = validator.New()

// LoadFile reads and validates a system config file.
func LoadFile(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a system config. Invalid configs are
// InvalidInputErrors.
func Parse(data []byte) (*SystemConfig, error) {
	var cfg SystemConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.InvalidInputf("system config: %v", err)
	}
	if err := configValidator.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, apperrors.InvalidInputf("system config: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, apperrors.InvalidInputf("system config: %v", err)
	}
	for i := range cfg.Feeds {
		if _, err := parse.DecodeTransfersConfig(&cfg.Feeds[i].Transfers); err != nil {
			return nil, fmt.Errorf("feed %s: %w", cfg.Feeds[i].ID, err)
		}
	}
	return &cfg, nil
}

func (f *FeedConfig) params(systemPk int64) (gtfsdb.UpsertFeedParams, error) {
	headers := f.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return gtfsdb.UpsertFeedParams{}, err
	}
	var transfers string
	if f.Transfers.Kind != 0 && f.Transfers.Tag != "!!null" {
		out, err := yaml.Marshal(&f.Transfers)
		if err != nil {
			return gtfsdb.UpsertFeedParams{}, fmt.Errorf("encode transfers config: %w", err)
		}
		transfers = string(out)
	}
	return gtfsdb.UpsertFeedParams{
		ID:                   f.ID,
		SystemPk:             systemPk,
		Parser:               f.Parser,
		Url:                  f.URL,
		Path:                 f.Path,
		Headers:              string(headersJSON),
		HttpTimeoutMs:        durationMs(f.HTTPTimeout),
		PeriodMs:             durationMs(f.Period),
		Gzip:                 f.Gzip,
		TransfersConfig:      transfers,
		ExtensionFieldNumber: gtfsdb.NullInt32(f.ExtensionFieldNumber),
		Timezone:             f.Timezone,
	}, nil
}

func durationMs(d time.Duration) sql.NullInt64 {
	if d <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
}

// InstallResult summarizes an Install.
type InstallResult struct {
	SystemPk     int64
	FeedsCreated []string
	FeedsUpdated []string
	FeedsDeleted []string
}

// Install creates the system or updates it in place. Feeds missing from the
// config are deleted along with every entity they wrote.
func Install(ctx context.Context, client *gtfsdb.Client, cfg *SystemConfig) (InstallResult, error) {
	logger := slog.Default().With(slog.String("component", "system_installer"))
	var result InstallResult
	err := client.InTx(ctx, "install_system", func(_ *sql.Tx, q *gtfsdb.Queries) error {
		systemPk, err := q.UpsertSystem(ctx, gtfsdb.UpsertSystemParams{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Timezone: cfg.Timezone,
		})
		if err != nil {
			return fmt.Errorf("upsert system: %w", err)
		}
		result.SystemPk = systemPk

		existing, err := q.ListFeeds(ctx, systemPk)
		if err != nil {
			return fmt.Errorf("list feeds: %w", err)
		}
		stale := map[string]int64{}
		for _, feed := range existing {
			stale[feed.ID] = feed.Pk
		}

		for i := range cfg.Feeds {
			feed := &cfg.Feeds[i]
			params, err := feed.params(systemPk)
			if err != nil {
				return fmt.Errorf("feed %s: %w", feed.ID, err)
			}
			if _, err := q.UpsertFeed(ctx, params); err != nil {
				return fmt.Errorf("upsert feed %s: %w", feed.ID, err)
			}
			if _, ok := stale[feed.ID]; ok {
				result.FeedsUpdated = append(result.FeedsUpdated, feed.ID)
				delete(stale, feed.ID)
			} else {
				result.FeedsCreated = append(result.FeedsCreated, feed.ID)
			}
		}

		for _, feed := range existing {
			pk, ok := stale[feed.ID]
			if !ok {
				continue
			}
			if err := q.DeleteFeed(ctx, pk); err != nil {
				return fmt.Errorf("delete feed %s: %w", feed.ID, err)
			}
			result.FeedsDeleted = append(result.FeedsDeleted, feed.ID)
		}
		return nil
	})
	if err != nil {
		return InstallResult{}, err
	}
	logging.LogOperation(logger, "system_installed",
		slog.String("system_id", cfg.ID),
		slog.Int("feeds_created", len(result.FeedsCreated)),
		slog.Int("feeds_updated", len(result.FeedsUpdated)),
		slog.Int("feeds_deleted", len(result.FeedsDeleted)))
	return result, nil
}

// DeleteSystem removes a system with its feeds, updates and entities.
func DeleteSystem(ctx context.Context, client *gtfsdb.Client, systemID string) error {
	return client.InTx(ctx, "delete_system", func(_ *sql.Tx, q *gtfsdb.Queries) error {
		system, err := q.GetSystem(ctx, systemID)
		if errors.Is(err, sql.ErrNoRows) {
			return &apperrors.IdNotFoundError{Kind: "system", ID: systemID}
		}
		if err != nil {
			return err
		}
		if err := q.DeleteSystem(ctx, system.Pk); err != nil {
			return fmt.Errorf("delete system %s: %w", systemID, err)
		}
		logging.LogOperation(slog.Default().With(slog.String("component", "system_installer")),
			"system_deleted", slog.String("system_id", systemID))
		return nil
	})
}

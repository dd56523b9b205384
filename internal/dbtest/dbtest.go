// Package dbtest builds in-memory databases with systems, feeds and feed
// updates for tests of packages that sit on top of gtfsdb.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/appconf"
)

// NewClient returns a migrated in-memory client closed when t ends.
func NewClient(t testing.TB) *gtfsdb.Client {
	t.Helper()
	client, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewFileClient returns a migrated client on a database file in a temporary
// directory, for tests that need more than one connection.
func NewFileClient(t testing.TB) *gtfsdb.Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transiter.db")
	client, err := gtfsdb.NewClient(gtfsdb.NewConfig(path, appconf.Development, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// System creates a system and returns its pk.
func System(t testing.TB, client *gtfsdb.Client, id string) int64 {
	t.Helper()
	pk, err := client.Queries.UpsertSystem(context.Background(), gtfsdb.UpsertSystemParams{
		ID:       id,
		Name:     id,
		Timezone: "UTC",
	})
	require.NoError(t, err)
	return pk
}

// Feed creates a feed of the system and returns its pk.
func Feed(t testing.TB, client *gtfsdb.Client, systemPk int64, id, parser string) int64 {
	t.Helper()
	pk, err := client.Queries.UpsertFeed(context.Background(), gtfsdb.UpsertFeedParams{
		ID:       id,
		SystemPk: systemPk,
		Parser:   parser,
		Headers:  "{}",
	})
	require.NoError(t, err)
	return pk
}

// Update starts a RUNNING feed update and returns its pk.
func Update(t testing.TB, client *gtfsdb.Client, feedPk int64) int64 {
	t.Helper()
	pk, err := client.Queries.InsertFeedUpdate(context.Background(), gtfsdb.InsertFeedUpdateParams{
		FeedPk:    feedPk,
		UpdateID:  uuid.NewString(),
		Status:    "RUNNING",
		StartedAt: time.Now().Unix(),
	})
	require.NoError(t, err)
	return pk
}

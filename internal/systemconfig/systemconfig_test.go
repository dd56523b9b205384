package systemconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/dbtest"
	"transiter.dev/transiter/internal/parse"
)

const nycConfig = `
id: nyc
name: New York City Subway
timezone: America/New_York
feeds:
  - id: gtfs
    parser: GTFS_STATIC
    url: https://feeds.example/gtfs.zip
    transfers:
      strategy: group_stations
      exceptions:
        - [A, B]
  - id: realtime
    parser: GTFS_REALTIME
    url: https://feeds.example/realtime
    headers:
      x-api-key: secret
    http_timeout: 5s
    period: 30s
    gzip: true
    extension_field_number: 1001
  - id: local
    parser: GTFS_REALTIME
    path: /var/feeds/local.pb
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(nycConfig))
	require.NoError(t, err)

	assert.Equal(t, "nyc", cfg.ID)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	require.Len(t, cfg.Feeds, 3)

	realtime := cfg.Feeds[1]
	assert.Equal(t, "GTFS_REALTIME", realtime.Parser)
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, realtime.Headers)
	assert.Equal(t, 5*time.Second, realtime.HTTPTimeout)
	assert.Equal(t, 30*time.Second, realtime.Period)
	assert.True(t, realtime.Gzip)
	require.NotNil(t, realtime.ExtensionFieldNumber)
	assert.Equal(t, int32(1001), *realtime.ExtensionFieldNumber)

	assert.Equal(t, "/var/feeds/local.pb", cfg.Feeds[2].Path)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "missing id",
			config: "name: x\n",
		},
		{
			name:   "unknown parser",
			config: "id: x\nname: x\nfeeds:\n  - {id: f, parser: CSV, url: https://a.example}\n",
		},
		{
			name:   "url and path",
			config: "id: x\nname: x\nfeeds:\n  - {id: f, parser: GTFS_STATIC, url: https://a.example, path: /tmp/f}\n",
		},
		{
			name:   "neither url nor path",
			config: "id: x\nname: x\nfeeds:\n  - {id: f, parser: GTFS_STATIC}\n",
		},
		{
			name: "duplicate feed ids",
			config: "id: x\nname: x\nfeeds:\n" +
				"  - {id: f, parser: GTFS_STATIC, path: /a}\n" +
				"  - {id: f, parser: GTFS_STATIC, path: /b}\n",
		},
		{
			name:   "unknown timezone",
			config: "id: x\nname: x\ntimezone: Mars/Olympus\n",
		},
		{
			name:   "negative period",
			config: "id: x\nname: x\nfeeds:\n  - {id: f, parser: GTFS_STATIC, path: /a, period: -1s}\n",
		},
		{
			name:   "bad transfers strategy",
			config: "id: x\nname: x\nfeeds:\n  - {id: f, parser: GTFS_STATIC, path: /a, transfers: {strategy: merge}}\n",
		},
		{
			name:   "not yaml",
			config: "id: [unterminated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config))
			var invalid *apperrors.InvalidInputError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nyc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nycConfig), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nyc", cfg.ID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInstall(t *testing.T) {
	client := dbtest.NewClient(t)
	ctx := context.Background()

	cfg, err := Parse([]byte(nycConfig))
	require.NoError(t, err)
	result, err := Install(ctx, client, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"gtfs", "realtime", "local"}, result.FeedsCreated)
	assert.Empty(t, result.FeedsUpdated)

	system, err := client.Queries.GetSystem(ctx, "nyc")
	require.NoError(t, err)
	assert.Equal(t, result.SystemPk, system.Pk)
	assert.Equal(t, "New York City Subway", system.Name)

	realtime, err := client.Queries.GetFeed(ctx, system.Pk, "realtime")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x-api-key":"secret"}`, realtime.Headers)
	assert.Equal(t, int64(5000), realtime.HttpTimeoutMs.Int64)
	assert.Equal(t, int64(30000), realtime.PeriodMs.Int64)
	assert.True(t, realtime.Gzip)
	assert.Equal(t, int64(1001), realtime.ExtensionFieldNumber.Int64)

	static, err := client.Queries.GetFeed(ctx, system.Pk, "gtfs")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, static.Headers)
	assert.False(t, static.PeriodMs.Valid)
	transfers, err := parse.LoadTransfersConfig([]byte(static.TransfersConfig))
	require.NoError(t, err)
	assert.Equal(t, parse.TransfersGroupStations, transfers.DefaultStrategy)
	assert.Equal(t, parse.TransfersDefault, transfers.StrategyFor("A", "B"))

	scheduled, err := client.Queries.ListScheduledFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "realtime", scheduled[0].FeedID)

	t.Run("reinstall updates and removes feeds", func(t *testing.T) {
		updated, err := Parse([]byte(`
id: nyc
name: NYC
feeds:
  - id: gtfs
    parser: GTFS_STATIC
    path: /var/feeds/gtfs.zip
`))
		require.NoError(t, err)
		result, err := Install(ctx, client, updated)
		require.NoError(t, err)
		assert.Equal(t, system.Pk, result.SystemPk)
		assert.Empty(t, result.FeedsCreated)
		assert.Equal(t, []string{"gtfs"}, result.FeedsUpdated)
		assert.ElementsMatch(t, []string{"realtime", "local"}, result.FeedsDeleted)

		feeds, err := client.Queries.ListFeeds(ctx, system.Pk)
		require.NoError(t, err)
		require.Len(t, feeds, 1)
		assert.Equal(t, "/var/feeds/gtfs.zip", feeds[0].Path)
		assert.Empty(t, feeds[0].Url)
		assert.Empty(t, feeds[0].TransfersConfig)
	})
}

func TestDeleteSystem(t *testing.T) {
	client := dbtest.NewClient(t)
	ctx := context.Background()

	cfg, err := Parse([]byte(nycConfig))
	require.NoError(t, err)
	result, err := Install(ctx, client, cfg)
	require.NoError(t, err)
	dbtest.Update(t, client, dbtest.Feed(t, client, result.SystemPk, "extra", "GTFS_STATIC"))

	require.NoError(t, DeleteSystem(ctx, client, "nyc"))

	counts, err := client.TableCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["system"])
	assert.Zero(t, counts["feed"])
	assert.Zero(t, counts["feed_update"])

	var notFound *apperrors.IdNotFoundError
	assert.ErrorAs(t, DeleteSystem(ctx, client, "nyc"), &notFound)
}

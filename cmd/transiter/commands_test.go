package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	gtfsproto "github.com/OneBusAway/go-gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"transiter.dev/transiter/internal/parse"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func staticZip(t *testing.T, stops string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("stops.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" + stops))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// cli runs commands against one database file.
type cli struct {
	t      *testing.T
	dbPath string
}

func (c cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", c.dbPath, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func installTestSystems(t *testing.T) cli {
	t.Helper()
	dir := t.TempDir()
	c := cli{t: t, dbPath: filepath.Join(dir, "transiter.db")}
	for _, system := range []struct{ id, stops string }{
		{"nyc", "S1,Station,40.0,-74.0,1,\nS1N,North,40.0,-74.0,0,S1\nS2,Far,41.0,-74.0,0,\n"},
		{"njt", "P1,Platform,40.0001,-74.0,0,\n"},
	} {
		zipPath := writeFile(t, dir, system.id+".zip", staticZip(t, system.stops))
		configPath := writeFile(t, dir, system.id+".yaml", []byte(fmt.Sprintf(
			"id: %s\nname: %s\nfeeds:\n  - id: static\n    parser: GTFS_STATIC\n    path: %s\n",
			system.id, system.id, zipPath)))

		var installed struct{ FeedsCreated []string }
		require.NoError(t, json.Unmarshal([]byte(c.mustRun("install", configPath)), &installed))
		assert.Equal(t, []string{"static"}, installed.FeedsCreated)
	}
	return c
}

func TestUpdateAndQueryCommands(t *testing.T) {
	c := installTestSystems(t)

	var result struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("update", "nyc", "static")), &result))
	assert.Equal(t, "SUCCESS", result.Status)
	assert.Equal(t, "UPDATED", result.Result)
	c.mustRun("update", "njt", "static")

	var tree map[string][]string
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("stops", "descendants", "nyc", "S1", "S2")), &tree))
	assert.Equal(t, map[string][]string{"S1": {"S1", "S1N"}, "S2": {"S2"}}, tree)

	var alerts map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("alerts", "nyc", "stops", "S1", "--at", "2024-03-01T12:00:00Z")), &alerts))
	assert.Contains(t, alerts, "S1")
	assert.Empty(t, alerts["S1"])

	var updates []struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("updates", "list", "nyc", "static", "--limit", "5")), &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "UPDATED", updates[0].Result)

	assert.Contains(t, c.mustRun("updates", "trim"), "deleted 0 feed updates")
	assert.Contains(t, c.mustRun("db", "schema"), "CREATE TABLE")

	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("db", "counts")), &counts))
	assert.Equal(t, 2, counts["system"])
	assert.Equal(t, 4, counts["stop"])
}

func TestTransfersCommands(t *testing.T) {
	c := installTestSystems(t)
	c.mustRun("update", "nyc", "static")
	c.mustRun("update", "njt", "static")

	var preview []struct {
		FromStopID string `json:"fromStopId"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("transfers", "preview", "--system", "nyc", "--system", "njt", "--distance", "100")), &preview))
	require.NotEmpty(t, preview)

	type config struct {
		ID        int64             `json:"id"`
		Distance  float64           `json:"distance"`
		SystemIDs []string          `json:"systemIds"`
		Transfers []json.RawMessage `json:"transfers"`
	}
	var created config
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("transfers", "create", "--system", "nyc,njt", "--distance", "100")), &created))
	assert.Equal(t, 100.0, created.Distance)
	assert.Len(t, created.Transfers, len(preview))
	id := fmt.Sprint(created.ID)

	var updated config
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("transfers", "update", id, "--distance", "1")), &updated))
	assert.Equal(t, 1.0, updated.Distance)
	assert.ElementsMatch(t, []string{"nyc", "njt"}, updated.SystemIDs)
	assert.Empty(t, updated.Transfers)

	var listed []config
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("transfers", "list")), &listed))
	require.Len(t, listed, 1)

	c.mustRun("transfers", "delete", id)
	_, err := c.run("transfers", "get", id)
	assert.Error(t, err)
	_, err = c.run("transfers", "get", "abc")
	assert.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	c := installTestSystems(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown feed", []string{"update", "nyc", "missing"}},
		{"unknown system", []string{"stops", "descendants", "bos", "S1"}},
		{"bad alert time", []string{"alerts", "nyc", "stops", "S1", "--at", "noon"}},
		{"unknown alert kind", []string{"alerts", "nyc", "vehicles", "S1"}},
		{"missing config file", []string{"install", "/nonexistent/system.yaml"}},
		{"bad parse format", []string{"parse", "CSV", "/nonexistent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			assert.Error(t, err)
		})
	}

	t.Run("delete system", func(t *testing.T) {
		c.mustRun("delete-system", "njt")
		_, err := c.run("delete-system", "njt")
		assert.Error(t, err)
	})
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gtfs.zip", staticZip(t, "S1,Station,40.0,-74.0,1,\n"))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"parse", "GTFS_STATIC", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"Station"`)
	assert.Contains(t, out.String(), "parse.Result")
}

func TestParseRealtimeCommand(t *testing.T) {
	stu := &gtfsproto.TripUpdate_StopTimeUpdate{StopId: proto.String("S1")}
	track := protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), "3")
	stu.ProtoReflect().SetUnknown(protowire.AppendBytes(protowire.AppendTag(nil, 1001, protowire.BytesType), track))
	content, err := proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsproto.FeedEntity{{
			Id: proto.String("1"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip:           &gtfsproto.TripDescriptor{TripId: proto.String("trip")},
				StopTimeUpdate: []*gtfsproto.TripUpdate_StopTimeUpdate{stu},
			},
		}},
	})
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "realtime.pb", content)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"parse", string(parse.FormatGTFSRealtime), path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"trip"`)
	assert.Regexp(t, `Track: \(\*string\)\([^)]*\)\(\(len=1\) "3"\)`, out.String())
}

func TestConfigFileWithFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", []byte(
		"env: production\ndb-path: /data/transiter.db\nlog-level: warn\napi-keys: [alpha, beta]\nrate-limit: 5\n"))

	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--config", configPath, "--rate-limit", "9"}))
	opts := &rootOptions{}
	opts.configPath, _ = root.PersistentFlags().GetString("config")
	opts.rateLimit, _ = root.PersistentFlags().GetInt("rate-limit")

	cfg, err := opts.config(root)
	require.NoError(t, err)
	assert.Equal(t, "/data/transiter.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.ApiKeys)
	assert.Equal(t, 9, cfg.RateLimit)

	_, err = (&rootOptions{configPath: filepath.Join(dir, "missing.yaml")}).config(root)
	assert.Error(t, err)
}

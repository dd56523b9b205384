package gtfsdb

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableCounts(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer func() { _ = db.Close() }()

	client := &Client{DB: db}

	_, err = db.Exec(`
		CREATE TABLE system (id TEXT);
		INSERT INTO system VALUES ('1');

		CREATE TABLE stop (id TEXT);
		INSERT INTO stop VALUES ('s1'), ('s2');

		-- Create a table NOT in the whitelist to ensure it's ignored
		CREATE TABLE secret_table (id TEXT);
	`)
	require.NoError(t, err)

	counts, err := client.TableCounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, counts["system"], "Should count systems correctly")
	assert.Equal(t, 2, counts["stop"], "Should count stops correctly")

	_, exists := counts["secret_table"]
	assert.False(t, exists, "Should not include tables outside the whitelist")
	_, exists = counts["route"]
	assert.False(t, exists, "Should skip tables that do not exist")
}

func TestPrintSimpleSchema(t *testing.T) {
	client := newTestClient(t)

	var buf bytes.Buffer
	require.NoError(t, client.PrintSimpleSchema(context.Background(), &buf))

	assert.Contains(t, buf.String(), "TABLE: feed_update")
	assert.Contains(t, buf.String(), "INDEX: idx_transfer_feed_key")
}

package models

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/alerts"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/reconcile"
	"transiter.dev/transiter/internal/update"
)

func TestResponseEnvelope(t *testing.T) {
	clk := clock.NewMockClock(time.UnixMilli(1700000000123))

	ok := NewOKResponse(CurrentTimeData{Time: 1}, clk)
	assert.Equal(t, 200, ok.Code)
	assert.Equal(t, int64(1700000000123), ok.CurrentTime)
	assert.Equal(t, "OK", ok.Text)

	failed := NewErrorResponse(404, "stop \"x\" not found", clk)
	raw, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":404,"currentTime":1700000000123,"text":"stop \"x\" not found","version":1}`, string(raw))
}

func TestNewUpdateResult(t *testing.T) {
	out := NewUpdateResult(update.Result{
		UpdateID: "u1",
		Status:   update.StatusSuccess,
		Result:   update.OutcomeUpdated,
		CountsByKind: reconcile.Counts{
			reconcile.KindStop: {Added: 2, Deleted: 1},
		},
		Elapsed: 1500 * time.Millisecond,
	})
	assert.Equal(t, "SUCCESS", out.Status)
	assert.Equal(t, "UPDATED", out.Result)
	assert.Equal(t, int64(1500), out.ElapsedMs)
	assert.Equal(t, map[string]EntityCounts{"stop": {Added: 2, Deleted: 1}}, out.CountsByKind)
}

func TestNewFeedUpdate(t *testing.T) {
	out := NewFeedUpdate(gtfsdb.FeedUpdate{
		UpdateID:      "u1",
		Status:        "FAILURE",
		Result:        sql.NullString{String: "PARSE_ERROR", Valid: true},
		ContentLength: sql.NullInt64{Int64: 10, Valid: true},
		ErrorMessage:  sql.NullString{String: "bad zip", Valid: true},
		StartedAt:     100,
		EndedAt:       sql.NullInt64{Int64: 105, Valid: true},
	})
	assert.Equal(t, "PARSE_ERROR", out.Result)
	require.NotNil(t, out.ContentLength)
	assert.Equal(t, int64(10), *out.ContentLength)
	assert.Equal(t, time.Unix(100, 0).UTC(), out.StartedAt)
	require.NotNil(t, out.EndedAt)
	assert.Equal(t, time.Unix(105, 0).UTC(), *out.EndedAt)

	running := NewFeedUpdate(gtfsdb.FeedUpdate{UpdateID: "u2", Status: "RUNNING", StartedAt: 100})
	assert.Nil(t, running.EndedAt)
	assert.Nil(t, running.ContentLength)
}

func TestNewAlertsByEntity(t *testing.T) {
	en := "en"
	out := NewAlertsByEntity(map[string][]alerts.ActiveAlert{
		"A": {{ID: "a1", Cause: "STRIKE", Messages: []alerts.Message{{Header: "No service", Language: &en}}}},
		"B": nil,
	})
	require.Len(t, out["A"], 1)
	assert.Equal(t, "No service", out["A"][0].Messages[0].Header)
	assert.NotNil(t, out["B"])
	assert.Empty(t, out["B"])
}

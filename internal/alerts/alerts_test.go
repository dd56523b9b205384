package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/dbtest"
	"transiter.dev/transiter/internal/parse"
	"transiter.dev/transiter/internal/reconcile"
)

var (
	time1 = time.Unix(1000, 0).UTC()
	time2 = time.Unix(2000, 0).UTC()
	time3 = time.Unix(3000, 0).UTC()
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	matcher *Matcher
	pks     map[gtfsdb.EntityTable]map[string]int64
}

func newFixture(t *testing.T, alerts ...parse.Alert) *fixture {
	client := dbtest.NewClient(t)
	systemPk := dbtest.System(t, client, "system")
	feedPk := dbtest.Feed(t, client, systemPk, "feed", "GTFS_REALTIME")
	gen := reconcile.Generation{SystemPk: systemPk, FeedPk: feedPk, UpdatePk: dbtest.Update(t, client, feedPk)}

	result := new(parse.ResultBuilder).
		Agencies(parse.Agency{ID: "agency"}).
		Routes(parse.Route{ID: "route1", AgencyID: "agency"}, parse.Route{ID: "route2", AgencyID: "agency"}).
		Stops(parse.Stop{ID: "stop", Type: parse.StopTypeStation}).
		Trips(parse.Trip{ID: "trip", RouteID: "route1"}).
		Alerts(alerts...).
		Build()
	ctx := context.Background()
	_, err := reconcile.NewReconciler().Reconcile(ctx, client.Queries, gen, result)
	require.NoError(t, err)

	f := &fixture{matcher: NewMatcher(client.Queries), pks: map[gtfsdb.EntityTable]map[string]int64{}}
	for _, table := range []gtfsdb.EntityTable{gtfsdb.AgencyTable, gtfsdb.RouteTable, gtfsdb.StopTable, gtfsdb.TripTable} {
		f.pks[table], err = client.Queries.MapIDsToPks(ctx, table, systemPk)
		require.NoError(t, err)
	}
	return f
}

func alertIDs(alerts []ActiveAlert) []string {
	ids := []string{}
	for _, alert := range alerts {
		ids = append(ids, alert.ID)
	}
	return ids
}

func TestActiveAlertsForPeriodContainment(t *testing.T) {
	testCases := []struct {
		name     string
		period   parse.ActivePeriod
		at       time.Time
		expected []string
	}{
		{"inside", parse.ActivePeriod{StartsAt: &time1, EndsAt: &time3}, time2, []string{"alert"}},
		{"after end", parse.ActivePeriod{StartsAt: &time1, EndsAt: &time2}, time3, []string{}},
		{"before start", parse.ActivePeriod{StartsAt: &time2, EndsAt: &time3}, time1, []string{}},
		{"at start", parse.ActivePeriod{StartsAt: &time2, EndsAt: &time3}, time2, []string{"alert"}},
		{"at end", parse.ActivePeriod{StartsAt: &time1, EndsAt: &time2}, time2, []string{"alert"}},
		{"open start", parse.ActivePeriod{EndsAt: &time2}, time1, []string{"alert"}},
		{"open end", parse.ActivePeriod{StartsAt: &time2}, time3, []string{"alert"}},
		{"open both", parse.ActivePeriod{}, time3, []string{"alert"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t,
				parse.Alert{ID: "alert", ActivePeriods: []parse.ActivePeriod{tc.period}, RouteIDs: []string{"route1"}},
				parse.Alert{ID: "other", ActivePeriods: []parse.ActivePeriod{tc.period}, RouteIDs: []string{"route2"}},
			)
			route1 := f.pks[gtfsdb.RouteTable]["route1"]

			actual, err := f.matcher.ActiveAlertsFor(context.Background(), Routes, []int64{route1}, tc.at)
			require.NoError(t, err)
			require.Len(t, actual, 1)
			assert.Equal(t, tc.expected, alertIDs(actual[route1]))
		})
	}
}

func TestActiveAlertsForOrderingAndDedup(t *testing.T) {
	early := time.Unix(500, 0).UTC()
	f := newFixture(t,
		parse.Alert{
			ID:            "late",
			Cause:         "STRIKE",
			Effect:        "NO_SERVICE",
			ActivePeriods: []parse.ActivePeriod{{StartsAt: &time2}},
			RouteIDs:      []string{"route1"},
			Messages: []parse.AlertMessage{
				{Header: "Strike", Language: ptr("en")},
				{Header: "Grève", Language: ptr("fr")},
			},
		},
		parse.Alert{
			ID: "duplicated",
			ActivePeriods: []parse.ActivePeriod{
				{StartsAt: &time1},
				{StartsAt: &early, EndsAt: &time3},
				{StartsAt: &early, EndsAt: &time3},
			},
			RouteIDs: []string{"route1"},
			TripIDs:  []string{"trip"},
		},
		parse.Alert{ID: "open", ActivePeriods: []parse.ActivePeriod{{}}, TripIDs: []string{"trip"}},
		parse.Alert{ID: "no periods", RouteIDs: []string{"route1"}},
	)
	route1 := f.pks[gtfsdb.RouteTable]["route1"]
	route2 := f.pks[gtfsdb.RouteTable]["route2"]

	actual, err := f.matcher.ActiveAlertsFor(context.Background(), Routes, []int64{route1, route2}, time2)
	require.NoError(t, err)

	assert.Equal(t, []string{"open", "duplicated", "late"}, alertIDs(actual[route1]))
	assert.Equal(t, &early, actual[route1][1].StartsAt)
	assert.Equal(t, &time3, actual[route1][1].EndsAt)
	assert.Nil(t, actual[route1][0].StartsAt)

	late := actual[route1][2]
	assert.Equal(t, "STRIKE", late.Cause)
	assert.Equal(t, []Message{
		{Header: "Strike", Language: ptr("en")},
		{Header: "Grève", Language: ptr("fr")},
	}, late.Messages)

	assert.Equal(t, []ActiveAlert{}, actual[route2])
}

func TestActiveAlertsForKinds(t *testing.T) {
	f := newFixture(t,
		parse.Alert{ID: "stop alert", ActivePeriods: []parse.ActivePeriod{{}}, StopIDs: []string{"stop"}},
		parse.Alert{ID: "trip alert", ActivePeriods: []parse.ActivePeriod{{}}, TripIDs: []string{"trip"}},
		parse.Alert{ID: "agency alert", ActivePeriods: []parse.ActivePeriod{{}}, AgencyIDs: []string{"agency"}},
	)

	testCases := []struct {
		kind     HasActiveAlerts
		table    gtfsdb.EntityTable
		id       string
		expected []string
	}{
		{Stops, gtfsdb.StopTable, "stop", []string{"stop alert"}},
		{Trips, gtfsdb.TripTable, "trip", []string{"trip alert"}},
		{Agencies, gtfsdb.AgencyTable, "agency", []string{"agency alert"}},
		{Routes, gtfsdb.RouteTable, "route1", []string{"trip alert"}},
	}
	for _, tc := range testCases {
		t.Run(tc.kind.Kind(), func(t *testing.T) {
			pk := f.pks[tc.table][tc.id]
			actual, err := f.matcher.ActiveAlertsFor(context.Background(), tc.kind, []int64{pk}, time2)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, alertIDs(actual[pk]))
		})
	}
}

func TestActiveAlertsForEmptyInput(t *testing.T) {
	f := newFixture(t)
	actual, err := f.matcher.ActiveAlertsFor(context.Background(), Routes, nil, time2)
	require.NoError(t, err)
	assert.Empty(t, actual)

	actual, err = f.matcher.ActiveAlertsFor(context.Background(), Stops, []int64{12345}, time2)
	require.NoError(t, err)
	assert.Equal(t, map[int64][]ActiveAlert{12345: {}}, actual)
}

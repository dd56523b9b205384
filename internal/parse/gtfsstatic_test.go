package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/internal/apperrors"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func parseStatic(t *testing.T, cfg TransfersConfig, files map[string]string) *Result {
	t.Helper()
	result, err := NewGTFSStaticParser(cfg).Parse(context.Background(), buildZip(t, files))
	require.NoError(t, err)
	return result
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStaticAgencies(t *testing.T) {
	result := parseStatic(t, TransfersConfig{}, map[string]string{
		"agency.txt": "\ufeffagency_id,agency_name,agency_url,agency_timezone\n" +
			"a1,Agency One,https://one.example,America/New_York\n" +
			",Agency Two,https://two.example,America/New_York\n",
	})

	agencies := slices.Collect(result.Agencies())
	require.Len(t, agencies, 2)
	assert.Equal(t, "a1", agencies[0].ID)
	assert.Equal(t, "America/New_York", agencies[0].Timezone)
	assert.Equal(t, "Agency Two", agencies[1].ID, "missing agency_id falls back to the name")
}

func TestStaticRoutes(t *testing.T) {
	result := parseStatic(t, TransfersConfig{}, map[string]string{
		"agency.txt": "agency_id,agency_name\nonly,Only Agency\n",
		"routes.txt": "route_id,route_short_name,route_type,route_color,route_text_color,route_sort_order\n" +
			"A,A Train,1,0039A6,FFFFFF,3\n" +
			"B,B Train,,,,\n",
	})

	routes := slices.Collect(result.Routes())
	require.Len(t, routes, 2)
	assert.Equal(t, Route{
		ID:        "A",
		AgencyID:  "only",
		ShortName: "A Train",
		Color:     "0039A6",
		TextColor: "FFFFFF",
		SortOrder: ptr(int32(3)),
		Type:      RouteTypeSubway,
	}, routes[0])
	assert.Equal(t, "FFFFFF", routes[1].Color)
	assert.Equal(t, "000000", routes[1].TextColor)
	assert.Equal(t, RouteTypeUnknown, routes[1].Type)
	assert.Nil(t, routes[1].SortOrder)
}

func TestStaticStops(t *testing.T) {
	result := parseStatic(t, TransfersConfig{}, map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station,wheelchair_boarding\n" +
			"S,Station,40.1,-73.2,1,,1\n" +
			"S1,Platform 1,40.1,-73.2,0,S,2\n" +
			"E,Entrance,40.2,-73.3,2,S,\n",
	})

	stops := slices.Collect(result.Stops())
	require.Len(t, stops, 3)
	assert.Equal(t, StopTypeStation, stops[0].Type)
	assert.Nil(t, stops[0].ParentID)
	assert.Equal(t, ptr(true), stops[0].WheelchairBoarding)
	assert.Equal(t, StopTypePlatform, stops[1].Type)
	assert.Equal(t, ptr("S"), stops[1].ParentID)
	assert.Equal(t, ptr(false), stops[1].WheelchairBoarding)
	assert.Equal(t, StopTypeEntrance, stops[2].Type)
	assert.Nil(t, stops[2].WheelchairBoarding)
	assert.InDelta(t, 40.2, stops[2].Latitude, 1e-9)
}

func TestStaticTransfers(t *testing.T) {
	stops := "stop_id,stop_name,stop_lat,stop_lon\nA,A,1,1\nB,B,2,2\nC,C,3,3\n"

	testCases := []struct {
		name      string
		transfers string
		want      []Transfer
	}{
		{
			name:      "defaults to recommended",
			transfers: "from_stop_id,to_stop_id,transfer_type,min_transfer_time\nA,B,,\n",
			want:      []Transfer{{FromStopID: "A", ToStopID: "B", Type: TransferRecommended}},
		},
		{
			name:      "coordinated with min time",
			transfers: "from_stop_id,to_stop_id,transfer_type,min_transfer_time\nA,C,1,300\n",
			want:      []Transfer{{FromStopID: "A", ToStopID: "C", Type: TransferCoordinated, MinTransferTime: ptr(int32(300))}},
		},
		{
			name:      "same stop skipped",
			transfers: "from_stop_id,to_stop_id,transfer_type\nB,B,2\nB,C,3\n",
			want:      []Transfer{{FromStopID: "B", ToStopID: "C", Type: TransferNoTransfer}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := parseStatic(t, TransfersConfig{}, map[string]string{
				"stops.txt":     stops,
				"transfers.txt": tc.transfers,
			})
			assert.Equal(t, tc.want, slices.Collect(result.Transfers()))
		})
	}
}

func TestStaticGroupStations(t *testing.T) {
	files := map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type\n" +
			"A,Name 1,4,4,1\nB,Name 1,1,1,1\nC,Name 2,1,1,1\nD,Other,9,9,1\nE,Platform,4,4,0\n",
		"transfers.txt": "from_stop_id,to_stop_id,transfer_type\n" +
			"A,B,2\nB,C,2\nC,D,2\nA,A,2\nA,E,2\n",
	}
	cfg := TransfersConfig{
		DefaultStrategy: TransfersGroupStations,
		Exceptions: []TransfersException{
			{StopIDs: []string{"C", "D"}, Strategy: TransfersDefault},
		},
	}

	result := parseStatic(t, cfg, files)

	stops := slices.Collect(result.Stops())
	ids := make([]string, 0, len(stops))
	for _, stop := range stops {
		ids = append(ids, stop.ID)
	}
	require.Equal(t, []string{"A", "B", "C", "D", "E", "A-B-C"}, ids)

	station := stops[5]
	assert.Equal(t, StopTypeGroupedStation, station.Type)
	assert.Equal(t, "Name 1", station.Name)
	assert.InDelta(t, 2.0, station.Latitude, 1e-9)
	assert.InDelta(t, 2.0, station.Longitude, 1e-9)
	for _, child := range stops[:3] {
		assert.Equal(t, ptr("A-B-C"), child.ParentID, child.ID)
	}
	assert.Nil(t, stops[3].ParentID)
	assert.Nil(t, stops[4].ParentID, "platforms are never grouped")

	assert.Equal(t, []Transfer{
		{FromStopID: "C", ToStopID: "D", Type: TransferPossible},
		{FromStopID: "A", ToStopID: "E", Type: TransferPossible},
	}, slices.Collect(result.Transfers()))
}

func TestCreateStationFromChildStops(t *testing.T) {
	testCases := []struct {
		names []string
		want  string
	}{
		{names: []string{"Name 1", "Name 1", "Name 2"}, want: "Name 1"},
		{names: []string{"Name 1", "Name 2"}, want: "Name 1 / Name 2"},
		{names: []string{"Name 1", "Name 1 (and more)"}, want: "Name 1 (and more)"},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			var children []Stop
			for i, name := range tc.names {
				children = append(children, Stop{ID: string(rune('C' - i)), Name: name})
			}
			station := createStationFromChildStops(children)
			assert.Equal(t, tc.want, station.Name)
		})
	}

	station := createStationFromChildStops([]Stop{
		{ID: "B", Latitude: 1, Longitude: 1},
		{ID: "A", Latitude: 4, Longitude: 4},
		{ID: "C", Latitude: 1, Longitude: 1},
	})
	assert.Equal(t, "A-B-C", station.ID)
	assert.InDelta(t, 2.0, station.Latitude, 1e-9)
}

func TestStaticServices(t *testing.T) {
	result := parseStatic(t, TransfersConfig{}, map[string]string{
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"weekday,1,1,1,1,1,0,0,20240101,20241231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"weekday,20240106,1\n" +
			"weekday,20240101,2\n" +
			"holiday,20241225,1\n",
		"trips.txt": "route_id,service_id,trip_id,direction_id,trip_headsign,shape_id\n" +
			"A,weekday,t1,1,Uptown,sh1\n" +
			"A,weekday,t2,0,Downtown,\n" +
			"A,holiday,t3,,,\n" +
			"A,unknown,t4,1,,\n",
		"frequencies.txt": "trip_id,start_time,end_time,headway_secs,exact_times\n" +
			"t2,06:00:00,09:00:00,300,\n" +
			"t2,17:00:00,19:00:00,600,1\n" +
			"t4,06:00:00,09:00:00,300,\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"t1,25:10:00,25:11:00,S2,2\n" +
			"t1,,24:59:00,S1,1\n" +
			"t4,06:00:00,06:00:00,S1,1\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n" +
			"sh1,2,2,2\nsh1,1,1,1\n",
	})

	services := slices.Collect(result.ScheduledServices())
	require.Len(t, services, 2)

	weekday := services[0]
	assert.Equal(t, "weekday", weekday.ID)
	assert.True(t, weekday.Monday)
	assert.True(t, weekday.Friday)
	assert.False(t, weekday.Saturday)
	assert.Equal(t, ptr(date(2024, 1, 1)), weekday.StartDate)
	assert.Equal(t, ptr(date(2024, 12, 31)), weekday.EndDate)
	assert.Equal(t, []time.Time{date(2024, 1, 6)}, weekday.AddedDates)
	assert.Equal(t, []time.Time{date(2024, 1, 1)}, weekday.RemovedDates)
	require.Len(t, weekday.Trips, 2)

	t1 := weekday.Trips[0]
	assert.Equal(t, ptr(true), t1.DirectionID)
	assert.Equal(t, "sh1", t1.ShapeID)
	require.Len(t, t1.StopTimes, 2)
	assert.Equal(t, ScheduledTripStopTime{StopID: "S1", StopSequence: 1, DepartureTime: ptr(24*time.Hour + 59*time.Minute)}, t1.StopTimes[0])
	assert.Equal(t, ptr(25*time.Hour+10*time.Minute), t1.StopTimes[1].ArrivalTime)

	t2 := weekday.Trips[1]
	assert.Equal(t, ptr(false), t2.DirectionID)
	assert.Equal(t, []ScheduledTripFrequency{
		{StartTime: 6 * time.Hour, EndTime: 9 * time.Hour, Headway: 5 * time.Minute, FrequencyBased: true},
		{StartTime: 17 * time.Hour, EndTime: 19 * time.Hour, Headway: 10 * time.Minute, FrequencyBased: false},
	}, t2.Frequencies)

	holiday := services[1]
	assert.Equal(t, "holiday", holiday.ID)
	assert.False(t, holiday.Monday)
	assert.Nil(t, holiday.StartDate)
	assert.Nil(t, holiday.EndDate)
	require.Len(t, holiday.Trips, 1)
	assert.Nil(t, holiday.Trips[0].DirectionID)

	shapes := slices.Collect(result.Shapes())
	require.Len(t, shapes, 1)
	assert.Equal(t, []ShapePoint{{Latitude: 1, Longitude: 1}, {Latitude: 2, Longitude: 2}}, shapes[0].Points)
}

func TestStaticErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content func(t *testing.T) []byte
		section string
	}{
		{
			name:    "not a zip",
			content: func(*testing.T) []byte { return []byte("definitely not a zip") },
			section: "archive",
		},
		{
			name: "missing required column",
			content: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"routes.txt": "route_short_name\nA\n"})
			},
			section: "routes.txt",
		},
		{
			name: "bad stop sequence",
			content: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{
					"calendar.txt":   "service_id,start_date,end_date\ns,20240101,20240102\n",
					"trips.txt":      "route_id,service_id,trip_id\nA,s,t\n",
					"stop_times.txt": "trip_id,stop_id,stop_sequence\nt,S,first\n",
				})
			},
			section: "stop_times.txt",
		},
		{
			name: "bad date",
			content: func(t *testing.T) []byte {
				return buildZip(t, map[string]string{"calendar.txt": "service_id,start_date,end_date\ns,2024-01-01,20240102\n"})
			},
			section: "calendar.txt",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := NewGTFSStaticParser(TransfersConfig{}).Parse(context.Background(), tc.content(t))
			assert.Nil(t, result)
			var parseErr *apperrors.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tc.section, parseErr.Section)
		})
	}
}

func TestResultSequencesAreReiterable(t *testing.T) {
	result := parseStatic(t, TransfersConfig{}, map[string]string{
		"stops.txt": "stop_id,stop_name\nA,A\nB,B\n",
	})
	first := slices.Collect(result.Stops())
	second := slices.Collect(result.Stops())
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	assert.Equal(t, 2, result.Counts()["stop"])
}

func TestParseGTFSTime(t *testing.T) {
	testCases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "00:00:00", want: 0},
		{in: "8:05:09", want: 8*time.Hour + 5*time.Minute + 9*time.Second},
		{in: "26:30:00", want: 26*time.Hour + 30*time.Minute},
		{in: "12:60:00", wantErr: true},
		{in: "12:00", wantErr: true},
		{in: "ab:cd:ef", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseGTFSTime(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

package webui

import (
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/internal/app"
	"transiter.dev/transiter/internal/appconf"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/dbtest"
	"transiter.dev/transiter/internal/feedsource"
)

func newTestWebUI(t *testing.T, env appconf.Environment) (*WebUI, *http.ServeMux) {
	t.Helper()
	client := dbtest.NewClient(t)
	systemPk := dbtest.System(t, client, "nyc")
	feedPk := dbtest.Feed(t, client, systemPk, "static", "GTFS_STATIC")
	dbtest.Update(t, client, feedPk)

	a := app.New(appconf.Config{Env: env}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		client, feedsource.NewFileSource(), clock.RealClock{}, nil)
	webUI := &WebUI{Application: a}
	mux := http.NewServeMux()
	webUI.SetWebUIRoutes(mux)
	return webUI, mux
}

func TestDebugIndexHandler_ProductionReturns404(t *testing.T) {
	_, mux := newTestWebUI(t, appconf.Production)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/debug/?dataType=systems", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code, "Should return 404 in Production")
}

func TestDebugIndexHandler(t *testing.T) {
	_, mux := newTestWebUI(t, appconf.Development)

	tests := []struct {
		dataType string
		title    string
		contains string
	}{
		{"systems", "Systems", `"nyc"`},
		{"feeds", "Feeds", "GTFS_STATIC"},
		{"updates", "Recent Feed Updates", "nyc/static"},
		{"counts", "Table Row Counts", "feed_update"},
		{"schema", "Schema", "CREATE TABLE"},
		{"transfers_configs", "Transfers Configs", "[]transfers.Config"},
		{"", "Choose a data type", "Please use one of the following"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest("GET", "/debug/?dataType="+tt.dataType, nil))

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "text/html", rr.Header().Get("Content-Type"))
			body := rr.Body.String()
			assert.Contains(t, body, "<h1>"+tt.title+"</h1>")
			assert.Contains(t, body, html.EscapeString(tt.contains))
		})
	}
}

func TestDebugIndexHandler_DatabaseError(t *testing.T) {
	webUI, mux := newTestWebUI(t, appconf.Development)
	require.NoError(t, webUI.DB.Close())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/debug/?dataType=systems", nil)
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

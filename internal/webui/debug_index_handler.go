package webui

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/appconf"
	"transiter.dev/transiter/internal/logging"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

const recentUpdatesPerFeed = 10

type debugData struct {
	Title string
	Pre   string
}

func (webUI *WebUI) writeDebugData(w http.ResponseWriter, r *http.Request, title, content string) {
	w.Header().Set("Content-Type", "text/html")
	if err := debugTemplate.Execute(w, debugData{Title: title, Pre: content}); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "failed to execute debug template", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	q := webUI.DB.Queries

	var (
		data  interface{}
		title string
		err   error
	)
	switch r.URL.Query().Get("dataType") {
	case "systems":
		title = "Systems"
		data, err = q.ListSystems(ctx)
	case "feeds":
		title = "Feeds"
		data, err = webUI.feedsBySystem(ctx, q)
	case "updates":
		title = "Recent Feed Updates"
		data, err = webUI.recentUpdates(ctx, q)
	case "counts":
		title = "Table Row Counts"
		data, err = webUI.DB.TableCounts(ctx)
	case "schema":
		var schema strings.Builder
		if err := webUI.DB.PrintSimpleSchema(ctx, &schema); err != nil {
			webUI.debugError(w, r, err)
			return
		}
		webUI.writeDebugData(w, r, "Schema", schema.String())
		return
	case "transfers_configs":
		title = "Transfers Configs"
		data, err = webUI.Transfers.List(ctx)
	default:
		title = "Choose a data type"
		data = map[string]string{
			"error": "Please use one of the following: systems, feeds, updates, counts, schema, transfers_configs.",
		}
	}
	if err != nil {
		webUI.debugError(w, r, err)
		return
	}
	webUI.writeDebugData(w, r, title, spew.Sdump(data))
}

func (webUI *WebUI) debugError(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "failed to load debug data", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (webUI *WebUI) feedsBySystem(ctx context.Context, q *gtfsdb.Queries) (map[string][]gtfsdb.Feed, error) {
	systems, err := q.ListSystems(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]gtfsdb.Feed, len(systems))
	for _, system := range systems {
		feeds, err := q.ListFeeds(ctx, system.Pk)
		if err != nil {
			return nil, err
		}
		out[system.ID] = feeds
	}
	return out, nil
}

// recentUpdates keys the latest updates of every feed by "<system>/<feed>".
func (webUI *WebUI) recentUpdates(ctx context.Context, q *gtfsdb.Queries) (map[string][]gtfsdb.FeedUpdate, error) {
	feeds, err := webUI.feedsBySystem(ctx, q)
	if err != nil {
		return nil, err
	}
	out := map[string][]gtfsdb.FeedUpdate{}
	for systemID, systemFeeds := range feeds {
		for _, feed := range systemFeeds {
			updates, err := q.ListFeedUpdates(ctx, feed.Pk, recentUpdatesPerFeed)
			if err != nil {
				return nil, err
			}
			out[systemID+"/"+feed.ID] = updates
		}
	}
	return out, nil
}

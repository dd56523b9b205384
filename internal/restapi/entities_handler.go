package restapi

import (
	"net/http"
	"strconv"
	"time"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/models"
)

func (api *RestAPI) stopDescendantsHandler(w http.ResponseWriter, r *http.Request) {
	stationsOnly := false
	if raw := r.URL.Query().Get("stations_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			api.errorResponse(w, r, apperrors.InvalidInputf("stations_only %q is not a boolean", raw))
			return
		}
		stationsOnly = v
	}
	stopID := r.PathValue("stop")
	tree, err := api.StopDescendants(r.Context(), r.PathValue("system"), []string{stopID}, stationsOnly)
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	api.sendOK(w, r, map[string]any{
		"stopId":      stopID,
		"descendants": tree[stopID],
	})
}

// activeAlertsHandler returns the alerts active for the entities named by
// the repeated id query parameter, at "at" (RFC 3339) or now.
func (api *RestAPI) activeAlertsHandler(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		api.errorResponse(w, r, apperrors.InvalidInputf("at least one id is required"))
		return
	}
	at := api.Clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.errorResponse(w, r, apperrors.InvalidInputf("at %q is not an RFC 3339 time", raw))
			return
		}
		at = t
	}
	matched, err := api.ActiveAlerts(r.Context(), r.PathValue("system"), r.PathValue("kind"), ids, at)
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	api.sendOK(w, r, models.NewAlertsByEntity(matched))
}

package restapi

import (
	"net/http"
	"strconv"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/models"
)

const defaultUpdatesLimit = 20

// runUpdateHandler runs one feed update synchronously. A failed update is
// still a recorded update, so it is reported with its outcome and status 200.
func (api *RestAPI) runUpdateHandler(w http.ResponseWriter, r *http.Request) {
	result, err := api.Runner.RunUpdate(r.Context(), r.PathValue("system"), r.PathValue("feed"))
	if result.UpdateID == "" {
		api.errorResponse(w, r, err)
		return
	}
	response := models.NewOKResponse(models.NewUpdateResult(result), api.Clock)
	if err != nil {
		response.Text = err.Error()
	}
	api.sendResponse(w, r, response)
}

func (api *RestAPI) listUpdatesHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultUpdatesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.errorResponse(w, r, apperrors.InvalidInputf("limit %q is not an integer", raw))
			return
		}
		limit = n
	}
	updates, err := api.Runner.ListUpdates(r.Context(), r.PathValue("system"), r.PathValue("feed"), limit)
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	api.sendOK(w, r, models.NewFeedUpdates(updates))
}

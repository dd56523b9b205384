package restapi

import (
	"net/http"
	"time"

	"transiter.dev/transiter/internal/models"
)

// currentTimeHandler reports the clock the server evaluates alerts against.
func (api *RestAPI) currentTimeHandler(w http.ResponseWriter, r *http.Request) {
	now := api.Clock.Now()
	api.sendOK(w, r, models.CurrentTimeData{
		Time:         now.UnixMilli(),
		ReadableTime: now.Format(time.RFC3339),
	})
}

package restapi

import (
	"net/http"
	"strconv"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/models"
)

func (api *RestAPI) listTransfersConfigsHandler(w http.ResponseWriter, r *http.Request) {
	configs, err := api.Transfers.List(r.Context())
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	out := make([]models.TransfersConfig, 0, len(configs))
	for _, c := range configs {
		out = append(out, models.NewTransfersConfig(c))
	}
	api.sendOK(w, r, out)
}

func (api *RestAPI) getTransfersConfigHandler(w http.ResponseWriter, r *http.Request) {
	pk, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		api.errorResponse(w, r, apperrors.InvalidInputf("transfers config id %q is not an integer", r.PathValue("id")))
		return
	}
	config, err := api.Transfers.Get(r.Context(), pk)
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	api.sendOK(w, r, models.NewTransfersConfig(config))
}

// previewTransfersHandler builds, without saving, the transfers between the
// systems named by the repeated system parameter within distance meters.
func (api *RestAPI) previewTransfersHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("distance")
	distance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		api.errorResponse(w, r, apperrors.InvalidInputf("distance %q is not a number", raw))
		return
	}
	transfers, err := api.Transfers.Preview(r.Context(), r.URL.Query()["system"], distance)
	if err != nil {
		api.errorResponse(w, r, err)
		return
	}
	api.sendOK(w, r, models.NewTransfers(transfers))
}

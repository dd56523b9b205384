package restapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"transiter.dev/transiter/internal/apperrors"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/models"
)

func (api *RestAPI) sendResponse(w http.ResponseWriter, r *http.Request, response models.ResponseModel) {
	setJSONResponseType(&w)
	if response.Code != 0 && response.Code != http.StatusOK {
		w.WriteHeader(response.Code)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "failed to encode response", err)
	}
}

func (api *RestAPI) sendOK(w http.ResponseWriter, r *http.Request, data any) {
	api.sendResponse(w, r, models.NewOKResponse(data, api.Clock))
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	api.sendResponse(w, r, models.NewErrorResponse(code, message, api.Clock))
}

func (api *RestAPI) sendUnauthorized(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusUnauthorized, "permission denied")
}

// errorResponse maps the error taxonomy onto HTTP status codes. Anything
// outside it is a server error.
func (api *RestAPI) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *apperrors.InvalidInputError
		notFound *apperrors.IdNotFoundError
		conflict *apperrors.ReconciliationConflictError
		parseErr *apperrors.ParseError
	)
	switch {
	case errors.As(err, &invalid):
		api.sendError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		api.sendError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		api.sendError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &parseErr):
		api.sendError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		api.serverErrorResponse(w, r, err)
	}
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "request failed", err,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())))
	api.sendError(w, r, http.StatusInternalServerError, "internal server error")
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

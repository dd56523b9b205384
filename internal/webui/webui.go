// Package webui serves a plain HTML page for inspecting the database while
// developing.
package webui

import (
	"net/http"

	"transiter.dev/transiter/internal/app"
)

type WebUI struct {
	*app.Application
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/", webUI.debugIndexHandler)
}

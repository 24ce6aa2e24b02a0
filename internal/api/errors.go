// Package api exposes the relay's HTTP surface: client registration, signed
// push webhooks and tenant credential management.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
)

// ErrorBody is the JSON envelope for every failed request.
type ErrorBody struct {
	Status string           `json:"status"`
	Errors []ErrorItem      `json:"errors"`
	Fields []relayerr.Field `json:"fields,omitempty"`
}

type ErrorItem struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type statusBody struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

// writeError renders err with the status of its kind. Storage and internal
// failures are logged in full and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	re := relayerr.From(err)
	status := re.Kind.Status()

	message := re.Error()
	switch re.Kind {
	case relayerr.KindStorage, relayerr.KindInternal:
		logger.Error("Request failed", "path", r.URL.Path, "kind", re.Kind.String(), "err", err)
		message = http.StatusText(status)
	default:
		logger.Debug("Request rejected", "path", r.URL.Path, "kind", re.Kind.String(), "err", err)
	}

	writeJSON(w, r, status, ErrorBody{
		Status: "FAILURE",
		Errors: []ErrorItem{{Name: re.Kind.String(), Message: message}},
		Fields: re.Fields,
	})
}

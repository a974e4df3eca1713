package handlers

import (
	"net/http"

	"github.com/alexmaze/aimemos/internal/apperr"
)

// writeError renders the {error:{kind,message}} body of §6, mapping the
// apperr taxonomy onto HTTP status codes at the handler edge.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := apperr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]string{"kind": "StoreError", "message": err.Error()},
		})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindPermission:
		status = http.StatusForbidden
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindBackpressure:
		status = http.StatusTooManyRequests
	case apperr.KindDisabled:
		status = http.StatusServiceUnavailable
	case apperr.KindModel, apperr.KindStore, apperr.KindUpstream, apperr.KindIndex:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": string(kind), "message": err.Error()},
	})
}

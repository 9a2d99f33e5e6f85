package web

import (
	"encoding/json"
	"net/http"

	"github.com/hpungsan/overseer/internal/errors"
)

func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes err as a JSON error body. Internal errors never expose their cause.
func renderError(w http.ResponseWriter, err error) {
	var oErr *errors.OverseerError
	if !errors.As(err, &oErr) {
		oErr = errors.NewInternal(err)
	}

	message := oErr.Message
	if oErr.Code == errors.ErrInternal {
		message = "an internal error occurred"
	}

	renderJSON(w, oErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(oErr.Code),
			"message": message,
			"status":  oErr.Status,
		},
	})
}

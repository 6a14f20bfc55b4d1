package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/agent-infra/internal/api/shared"
)

// DecodeAndValidate decodes the JSON body into v and validates it. On
// failure it writes a 400 response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		HandleValidationError(w, r, err)
		return false
	}
	return true
}

// PathParam returns the named chi URL parameter.
func PathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

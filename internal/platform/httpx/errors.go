// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

type problemMapping struct {
	status int
	title  string
}

var problemByKind = map[shared.Kind]problemMapping{
	shared.KindValidation:          {http.StatusBadRequest, "Validation Failed"},
	shared.KindConflict:            {http.StatusConflict, "Conflict"},
	shared.KindPrecondition:        {http.StatusPreconditionFailed, "Precondition Failed"},
	shared.KindInvalidState:        {http.StatusConflict, "Invalid State"},
	shared.KindForbiddenTransition: {http.StatusForbidden, "Forbidden Transition"},
	shared.KindNotFound:            {http.StatusNotFound, "Not Found"},
	shared.KindInfrastructure:      {http.StatusServiceUnavailable, "Service Unavailable"},
}

// StatusFor returns the HTTP status code used for err.
func StatusFor(err error) int {
	if m, ok := problemByKind[shared.KindOf(err)]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. Infrastructure
// details are only exposed when verbose is set.
func RespondError(w http.ResponseWriter, err error, verbose bool) {
	kind := shared.KindOf(err)
	m, ok := problemByKind[kind]
	if !ok {
		m = problemMapping{http.StatusInternalServerError, "Internal Error"}
	}
	detail := err.Error()
	if kind == shared.KindInfrastructure && !verbose {
		detail = ""
	}
	JSON(w, m.status, ProblemDetail{
		Type:   "urn:fulfillment:error:" + string(kind),
		Title:  m.title,
		Status: m.status,
		Detail: detail,
	})
}

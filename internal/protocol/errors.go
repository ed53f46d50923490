// ABOUTME: Error kinds reported to clients in scopedError events and REST error bodies
// ABOUTME: Maps each kind to the HTTP status used by the REST surface

package protocol

import (
	"errors"
	"net/http"
)

// ErrInvalid is returned when an inbound frame or payload fails validation.
var ErrInvalid = errors.New("invalid payload")

// Error kinds
const (
	KindAuthRequired     = "auth_required"
	KindValidation       = "validation_error"
	KindNotFound         = "not_found"
	KindPermissionDenied = "permission_denied"
	KindTransient        = "transient_store_error"
)

// HTTPStatus returns the REST status code for an error kind.
func HTTPStatus(kind string) int {
	switch kind {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// ScopedError builds the error event for one connection.
func ScopedError(requestID, kind, detail string) Event {
	return Event{
		Type:      TypeScopedError,
		RequestID: requestID,
		Payload:   ScopedErrorPayload{Kind: kind, Detail: detail},
	}
}

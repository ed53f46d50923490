// ABOUTME: Error taxonomy for discussion operations
// ABOUTME: Maps sentinel errors from every layer to the stable kinds clients see

package discussion

import (
	"errors"

	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/store"
)

// ErrAuthRequired is returned when a guest tries to publish, react, delete or type.
var ErrAuthRequired = errors.New("authentication required")

// ErrTransient is returned when a store operation fails twice.
var ErrTransient = errors.New("message store unavailable")

// Kind returns the client-facing error kind for err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return protocol.KindAuthRequired
	case errors.Is(err, protocol.ErrInvalid), errors.Is(err, store.ErrValidation):
		return protocol.KindValidation
	case errors.Is(err, store.ErrNotFound):
		return protocol.KindNotFound
	case errors.Is(err, store.ErrPermissionDenied):
		return protocol.KindPermissionDenied
	default:
		return protocol.KindTransient
	}
}

// Detail returns a message safe to show the client. Backend error text is never exposed.
func Detail(err error) string {
	switch Kind(err) {
	case protocol.KindAuthRequired:
		return "sign in to post, react, delete or type"
	case protocol.KindTransient:
		return "message store unavailable, try again"
	case protocol.KindNotFound:
		return "message not found"
	case protocol.KindPermissionDenied:
		return "only the author can delete this message"
	default:
		return err.Error()
	}
}

// isDomainError reports errors that retrying cannot fix.
func isDomainError(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrPermissionDenied) ||
		errors.Is(err, store.ErrValidation) ||
		errors.Is(err, protocol.ErrInvalid)
}

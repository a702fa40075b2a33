package dispatch

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/chirino/vaulthalla/internal/registry/store"
)

// mapError implements the error-propagation policy: every error kind the
// store/storage/auth layers can return is mapped to a response Status plus
// an ErrorBody the caller may act on, without ever leaking an internal
// error's detail or a stack trace to the wire. requestID is logged
// alongside anything worth an operator's attention.
func mapError(requestID string, err error) (Status, *ErrorBody) {
	var (
		validation   *store.ValidationError
		forbidden    *store.ForbiddenError
		notFound     *store.NotFoundError
		conflict     *store.ConflictError
		transient    *store.TransientError
		corrupt      *store.CorruptError
		keyMissing   *store.KeyMissingError
		unknownKeyV  *store.UnknownKeyVersionError
		unauthorized *store.UnauthorizedError
	)

	switch {
	case errors.As(err, &validation):
		return StatusError, &ErrorBody{Code: "validation", Message: err.Error()}
	case errors.As(err, &forbidden):
		log.Info("dispatch: forbidden", "request_id", requestID, "reason", forbidden.Reason)
		return StatusError, &ErrorBody{Code: "forbidden", Message: err.Error()}
	case errors.As(err, &notFound):
		return StatusError, &ErrorBody{Code: "not_found", Message: err.Error()}
	case errors.As(err, &conflict):
		return StatusError, &ErrorBody{Code: "conflict", Message: err.Error()}
	case errors.As(err, &transient):
		log.Error("dispatch: transient error surfaced after storage-layer retries", "request_id", requestID, "err", err)
		return StatusError, &ErrorBody{Code: "backend_error", Message: "storage backend is temporarily unavailable"}
	case errors.As(err, &corrupt):
		log.Error("dispatch: corrupt ciphertext", "request_id", requestID, "err", err)
		return StatusError, &ErrorBody{Code: "corrupt", Message: "stored content failed integrity verification"}
	case errors.As(err, &keyMissing):
		log.Error("dispatch: key missing", "request_id", requestID, "err", err)
		return StatusError, &ErrorBody{Code: "key_missing", Message: err.Error()}
	case errors.As(err, &unknownKeyV):
		log.Error("dispatch: unknown key version, file quarantined", "request_id", requestID, "err", err)
		return StatusError, &ErrorBody{Code: "unknown_key_version", Message: err.Error()}
	case errors.As(err, &unauthorized):
		return StatusUnauthorized, &ErrorBody{Code: "unauthorized", Message: err.Error()}
	default:
		log.Error("dispatch: internal error", "request_id", requestID, "err", err)
		return StatusError, &ErrorBody{Code: "internal", Message: "internal error"}
	}
}

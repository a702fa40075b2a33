package cliserver

import (
	"errors"

	"github.com/chirino/vaulthalla/internal/registry/store"
)

// exitCodeFor maps a handler error to the CLI exit codes: 0 success
// (handled by the caller, never reaches here), 1 permission denied or
// runtime failure, 2 invalid arguments, 3 internal error.
func exitCodeFor(err error) int {
	var validation *store.ValidationError
	if errors.As(err, &validation) {
		return 2
	}
	var forbidden *store.ForbiddenError
	if errors.As(err, &forbidden) {
		return 1
	}
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		return 1
	}
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		return 1
	}
	var transient *store.TransientError
	if errors.As(err, &transient) {
		return 1
	}
	var unauthorized *store.UnauthorizedError
	if errors.As(err, &unauthorized) {
		return 1
	}
	var corrupt *store.CorruptError
	if errors.As(err, &corrupt) {
		return 3
	}
	var keyMissing *store.KeyMissingError
	if errors.As(err, &keyMissing) {
		return 3
	}
	var unknownVersion *store.UnknownKeyVersionError
	if errors.As(err, &unknownVersion) {
		return 3
	}
	return 3
}

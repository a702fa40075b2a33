package store

import "fmt"

// NotFoundError indicates the resource was not found (or the caller lacks access to it).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation, e.g. a duplicate
// vault name for the same owner, or two concurrent rotations.
type ConflictError struct {
	Message string
	Code    string
}

func (e *ConflictError) Error() string { return e.Message }

// ForbiddenError indicates the caller's permission snapshot does not allow the operation.
type ForbiddenError struct{ Reason string }

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Reason
}

// TransientError wraps a failure the caller should retry (deadlock, connection
// reset, lock-wait timeout). The sync controller gives it the same cooldown
// as any other worker error.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// CorruptError indicates an AEAD authentication-tag mismatch on decrypt: the
// ciphertext or IV does not match what was encrypted under the claimed key.
type CorruptError struct{ Detail string }

func (e *CorruptError) Error() string { return "corrupt ciphertext: " + e.Detail }

// KeyMissingError indicates LoadKey found no active VaultKey row for a vault.
type KeyMissingError struct{ VaultID string }

func (e *KeyMissingError) Error() string { return "no active key for vault " + e.VaultID }

// UnknownKeyVersionError indicates a Decrypt call named a key version that is
// neither the current version nor (mid-rotation) the immediately preceding one.
type UnknownKeyVersionError struct {
	VaultID string
	Version uint32
}

func (e *UnknownKeyVersionError) Error() string {
	return fmt.Sprintf("unknown key version %d for vault %s", e.Version, e.VaultID)
}

// UnauthorizedError indicates a missing or invalid access token.
type UnauthorizedError struct{ Reason string }

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.Reason }

// InternalError wraps an unexpected failure that should surface to the
// client as a generic 500 without leaking internal detail.
type InternalError struct{ Err error }

func (e *InternalError) Error() string { return "internal error: " + e.Err.Error() }
func (e *InternalError) Unwrap() error { return e.Err }

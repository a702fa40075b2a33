package storage

import (
	"encoding/base32"
	stdpath "path"

	"github.com/google/uuid"
)

var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// Vault paths are always "/"-separated logical paths, independent of the
// host OS, so the stdlib "path" package is the correct tool — not
// "path/filepath", which would apply OS-specific separators.

func parentPath(p string) string {
	if p == "/" {
		return "/"
	}
	dir := stdpath.Dir(p)
	return dir
}

func baseName(p string) string {
	return stdpath.Base(p)
}

func isRootPath(p string) bool {
	return p == "/" || p == ""
}

func joinPath(dir, name string) string {
	return stdpath.Join(dir, name)
}

// newAlias mints the stable backend key for a freshly created FSEntry. It
// is derived from a random UUID rather than the entry's own ID so that
// swapping an alias (not currently done, but kept decoupled) never implies
// swapping the entry's identity.
func newAlias() string {
	id := uuid.New()
	return base32Enc.EncodeToString(id[:])
}

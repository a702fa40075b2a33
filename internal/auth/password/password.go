// Package password implements the daemon's password hashing and strength
// policy: Argon2id hashing (OWASP-recommended parameters) and an
// "accumulate" strength check — length plus a minimum number of distinct
// character classes, rejecting anything in the embedded weak-password
// dictionary outright regardless of how it scores otherwise.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP-recommended for an interactive login path.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltSize     = 16
)

// Hash derives an Argon2id hash of password and returns it encoded as
// "$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>", self-describing so
// parameters can change across releases without breaking old hashes.
func Hash(plain string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generating salt: %w", err)
	}
	sum := argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether plain matches encoded, a string previously
// returned by Hash. It re-derives the hash using the parameters embedded
// in encoded (not the package's current defaults), so a future parameter
// bump doesn't invalidate existing hashes.
func Verify(plain, encoded string) (bool, error) {
	var version int
	var mem uint32
	var time uint32
	var threads uint8
	var saltB64, hashB64 string

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("password: unrecognized hash format")
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("password: parsing version: %w", err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time, &threads); err != nil {
		return false, fmt.Errorf("password: parsing params: %w", err)
	}
	saltB64, hashB64 = parts[4], parts[5]

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("password: decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, fmt.Errorf("password: decoding hash: %w", err)
	}

	got := argon2.IDKey([]byte(plain), salt, time, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// MinClasses is the number of distinct character classes an "accumulate"
// policy requires out of {upper, lower, digit, symbol}.
const MinClasses = 3

// CheckStrength validates plain against minLength, the accumulate class
// policy, and the weak-password dictionary. Returns a human-readable
// reason on failure, or "" if plain is acceptable.
func CheckStrength(plain string, minLength int) string {
	if len(plain) < minLength {
		return fmt.Sprintf("password must be at least %d characters", minLength)
	}
	if isWeak(plain) {
		return "password matches a known weak/dictionary pattern"
	}
	classes := 0
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	for _, b := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if b {
			classes++
		}
	}
	if classes < MinClasses {
		return fmt.Sprintf("password must contain at least %d of: uppercase, lowercase, digit, symbol", MinClasses)
	}
	return ""
}

func isWeak(plain string) bool {
	_, found := weakPasswords[strings.ToLower(plain)]
	return found
}

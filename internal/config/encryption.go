package config

import (
	"crypto/hkdf"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeEncryptionKey supports both hex and base64-encoded raw key material.
// The decoded key must be 16, 24 or 32 bytes long.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	if b, err := hex.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(value); err == nil && validAESKeyLen(len(b)) {
		return b, nil
	}
	return nil, fmt.Errorf("key must be hex or base64 encoded 16/24/32-byte value")
}

func validAESKeyLen(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// DeriveDomainKey derives a 32-byte domain-specific key from master key
// material via HKDF-SHA256, the way AttachmentSigningKey derived download
// token keys in the teacher service. Each domain string yields an
// independent key from the same material. internal/auth/token does not use
// it: its signing key is random and wrapped under the master key.
func DeriveDomainKey(keyMaterial []byte, domain string) ([]byte, error) {
	key, err := hkdf.Key(sha256.New, keyMaterial, nil, domain, 32)
	if err != nil {
		return nil, fmt.Errorf("HKDF derivation for %q failed: %w", domain, err)
	}
	return key, nil
}

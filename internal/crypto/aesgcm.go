package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// sealAESGCM encrypts plaintext with AES-256-GCM under key, generating a
// fresh 96-bit random IV. Returns (iv, ciphertext).
func sealAESGCM(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return iv, gcm.Seal(nil, iv, plaintext, nil), nil
}

// openAESGCM decrypts ciphertext (with appended GCM tag) under key and iv.
func openAESGCM(key, iv, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("AES-GCM open: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key, for callers outside this package that
// need one-off AES-256-GCM sealing of master-key-wrapped material (e.g. the
// internal_secrets table) without standing up a full vault Manager.
func Seal(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	return sealAESGCM(key, plaintext)
}

// Open decrypts ciphertext under key and iv. See Seal.
func Open(key, iv, ciphertext []byte) ([]byte, error) {
	return openAESGCM(key, iv, ciphertext)
}

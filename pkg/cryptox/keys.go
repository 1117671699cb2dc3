package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a master secret into an independent purpose-bound key
// using HKDF-SHA256. Distinct purpose strings yield unrelated keys, so one
// master secret can back CSRF signing, marker signing, etc. without key
// reuse across domains.
func DeriveKey(master []byte, purpose string, size int) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master key must not be empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("key size must be positive, got %d", size)
	}

	out := make([]byte, size)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive %q key: %w", purpose, err)
	}
	return out, nil
}

// MustDeriveKey is like DeriveKey but panics on error. Use during startup
// where a bad master key is unrecoverable.
func MustDeriveKey(master []byte, purpose string, size int) []byte {
	key, err := DeriveKey(master, purpose, size)
	if err != nil {
		panic(fmt.Sprintf("cryptox: %v", err))
	}
	return key
}

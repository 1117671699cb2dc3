package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Signed token layout constants.
const (
	signedSecretSize = 16 // random secret bytes per token
	signedSigSize    = 16 // HMAC-SHA256 truncated to 128 bits
	signedTimeSize   = 8  // uint64 unix seconds, big endian
)

// Codec issues and verifies self-contained signed tokens of the form
//
//	hex(secret) "." hex(unix-seconds) "." hex(signature)
//
// where signature = HMAC-SHA256(secret || time, key) truncated to 16 bytes.
// Every field is hex-encoded so the "." delimiter can never appear inside a
// field. A token is valid only while the signature checks out and the
// embedded timestamp is no older than MaxAge.
//
// Codec is stateless and safe for concurrent use. Invalid tokens are an
// expected input: Verify reports them as false, never as an error.
type Codec struct {
	key    []byte
	maxAge time.Duration

	// now is swapped out by tests to exercise expiry.
	now func() time.Time
}

// NewCodec returns a Codec signing with key. Tokens older than maxAge fail
// verification.
func NewCodec(key []byte, maxAge time.Duration) *Codec {
	return &Codec{key: key, maxAge: maxAge, now: time.Now}
}

// MaxAge reports the configured token lifetime.
func (c *Codec) MaxAge() time.Duration {
	return c.maxAge
}

// Issue generates a fresh signed token bound to the current time.
func (c *Codec) Issue() (string, error) {
	secret := make([]byte, signedSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	ts := make([]byte, signedTimeSize)
	binary.BigEndian.PutUint64(ts, uint64(c.now().Unix()))

	sig := c.sign(secret, ts)

	return hex.EncodeToString(secret) + "." +
		hex.EncodeToString(ts) + "." +
		hex.EncodeToString(sig), nil
}

// Verify reports whether token was issued by this codec and has not
// exceeded MaxAge. Malformed input is simply invalid.
func (c *Codec) Verify(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}

	secret, err := hex.DecodeString(parts[0])
	if err != nil || len(secret) != signedSecretSize {
		return false
	}
	ts, err := hex.DecodeString(parts[1])
	if err != nil || len(ts) != signedTimeSize {
		return false
	}
	sig, err := hex.DecodeString(parts[2])
	if err != nil || len(sig) != signedSigSize {
		return false
	}

	if !hmac.Equal(sig, c.sign(secret, ts)) {
		return false
	}

	issued := time.Unix(int64(binary.BigEndian.Uint64(ts)), 0)
	return c.now().Sub(issued) <= c.maxAge
}

func (c *Codec) sign(secret, ts []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(secret)
	mac.Write(ts)
	return mac.Sum(nil)[:signedSigSize]
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultIdempotencyTTL is how long a stored response can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRecord stores the outcome of a mutating request keyed by a
// caller-supplied key. A replay with the same fingerprint returns the stored
// response verbatim; the same key with a different fingerprint is a client
// error. ResponseStatus is zero while the first request is still in flight.
type IdempotencyRecord struct {
	Key            string
	UserID         string
	Method         string
	Path           string
	Fingerprint    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Committed reports whether the owning request has stored its response.
func (r *IdempotencyRecord) Committed() bool {
	return r.ResponseStatus != 0
}

// Expired reports whether the record is past its TTL at the given time.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RequestFingerprint hashes method, path and body into the value compared on
// key reuse.
func RequestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

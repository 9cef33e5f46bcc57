// Package cache provides a content-addressed result cache with expiry.
// Entries are keyed by a deterministic fingerprint of node identity and
// canonicalized inputs; writes are last-writer-wins. Deduplication of
// concurrent identical computations is a scheduler responsibility, not a
// cache guarantee.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Entry is one cached result.
type Entry struct {
	Fingerprint string
	Value       []byte
	CreatedAt   time.Time
	TTL         time.Duration
}

// Expired reports whether the entry is past its time-to-live. A zero TTL
// never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Store is the result cache contract. Expired entries behave as misses
// and are lazily evicted. Implementations must be safe for concurrent
// use.
type Store interface {
	Get(ctx context.Context, fingerprint string) ([]byte, bool, error)
	Set(ctx context.Context, fingerprint string, value []byte, ttl time.Duration) error

	// Invalidate drops every entry scoped to one namespace.
	Invalidate(ctx context.Context, namespace string) error

	Close() error
}

// Fingerprint derives the deterministic cache key for a (node, inputs)
// pair. The input bytes are canonicalized (JSON re-marshal, which sorts
// object keys) so semantically identical payloads hash identically. The
// namespace prefixes the key so one workflow run can be invalidated as a
// unit.
func Fingerprint(namespace, nodeID string, input []byte) string {
	canonical := canonicalize(input)

	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write([]byte{0})
	h.Write(canonical)

	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// canonicalize re-marshals JSON input so that key order does not affect
// the fingerprint. Non-JSON input is hashed as-is.
func canonicalize(input []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(input, &v); err != nil {
		return input
	}
	out, err := json.Marshal(v)
	if err != nil {
		return input
	}
	return out
}

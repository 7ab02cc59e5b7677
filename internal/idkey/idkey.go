// Package idkey generates and decodes idempotency keys.
//
// Keys are UUIDv7 values: the high 48 bits carry a millisecond Unix
// timestamp, so keys sort in creation order and double as a time-bounded
// deduplication token for the remote peer.
package idkey

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the deduplication window applied when none is configured.
const DefaultWindow = 24 * time.Hour

// New returns a fresh UUIDv7 idempotency key.
//
// uuid.NewV7 only fails when the system entropy source does; in that case we
// fall back to a v4 key stamped into the v7 layout so callers never see a
// zero key.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
		now := uint64(time.Now().UnixMilli())
		u[0] = byte(now >> 40)
		u[1] = byte(now >> 32)
		u[2] = byte(now >> 24)
		u[3] = byte(now >> 16)
		u[4] = byte(now >> 8)
		u[5] = byte(now)
		u[6] = (u[6] & 0x0f) | 0x70 // version 7
		u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	}
	return u.String()
}

// Timestamp decodes the millisecond timestamp embedded in a v7 key.
func Timestamp(key string) (time.Time, error) {
	u, err := uuid.Parse(key)
	if err != nil {
		return time.Time{}, fmt.Errorf("idkey: parse %q: %w", key, err)
	}
	if u.Version() != 7 {
		return time.Time{}, fmt.Errorf("idkey: %q is not a v7 key (version %d)", key, u.Version())
	}

	// First 48 bits are the big-endian millisecond timestamp.
	var buf [8]byte
	copy(buf[2:], u[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms).UTC(), nil
}

// Expired reports whether the key's timestamp is older than window.
// Malformed keys are treated as expired (fail-safe).
func Expired(key string, window time.Duration) bool {
	ts, err := Timestamp(key)
	if err != nil {
		return true
	}
	return time.Since(ts) > window
}

package idkey

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := New()
		if seen[key] {
			t.Fatalf("duplicate key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestNew_Version7(t *testing.T) {
	key := New()
	u, err := uuid.Parse(key)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Version() != 7 {
		t.Errorf("version = %d, want 7", u.Version())
	}
	if u.Variant() != uuid.RFC4122 {
		t.Errorf("variant = %v, want RFC4122", u.Variant())
	}
}

func TestTimestamp_Roundtrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	key := New()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(key)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", ts, before, after)
	}
}

func TestTimestamp_Monotonic(t *testing.T) {
	k1 := New()
	time.Sleep(2 * time.Millisecond)
	k2 := New()

	t1, err := Timestamp(k1)
	if err != nil {
		t.Fatalf("Timestamp(k1): %v", err)
	}
	t2, err := Timestamp(k2)
	if err != nil {
		t.Fatalf("Timestamp(k2): %v", err)
	}
	if t2.Before(t1) {
		t.Errorf("later key has earlier timestamp: %v > %v", t1, t2)
	}
}

func TestTimestamp_Malformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"garbage", "not-a-uuid"},
		{"wrong version", uuid.New().String()}, // v4
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Timestamp(tt.key); err == nil {
				t.Errorf("Timestamp(%q) = nil error, want failure", tt.key)
			}
		})
	}
}

// keyAt builds a v7-shaped key with the given embedded timestamp.
func keyAt(ts time.Time) string {
	u := uuid.New()
	ms := uint64(ts.UnixMilli())
	u[0] = byte(ms >> 40)
	u[1] = byte(ms >> 32)
	u[2] = byte(ms >> 24)
	u[3] = byte(ms >> 16)
	u[4] = byte(ms >> 8)
	u[5] = byte(ms)
	u[6] = (u[6] & 0x0f) | 0x70
	u[8] = (u[8] & 0x3f) | 0x80
	return u.String()
}

func TestExpired(t *testing.T) {
	window := 24 * time.Hour

	if Expired(New(), window) {
		t.Error("fresh key reported expired")
	}

	old := keyAt(time.Now().Add(-25 * time.Hour))
	if !Expired(old, window) {
		t.Error("25h-old key not reported expired for 24h window")
	}

	recent := keyAt(time.Now().Add(-23 * time.Hour))
	if Expired(recent, window) {
		t.Error("23h-old key reported expired for 24h window")
	}
}

func TestExpired_MalformedIsExpired(t *testing.T) {
	if !Expired("not-a-key", DefaultWindow) {
		t.Error("malformed key not treated as expired")
	}
	if !Expired(uuid.New().String(), DefaultWindow) {
		t.Error("non-v7 key not treated as expired")
	}
}

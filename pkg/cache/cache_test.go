package cache

import (
	"context"
	"testing"
	"time"
)

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("run1", "node1", []byte(`{"b":2,"a":1}`))
	b := Fingerprint("run1", "node1", []byte(`{"a":1,"b":2}`))
	if a != b {
		t.Errorf("key order changed the fingerprint: %s vs %s", a, b)
	}

	tests := []struct {
		name            string
		namespace       string
		nodeID          string
		input           []byte
		wantSameAsFirst bool
	}{
		{"identical", "run1", "node1", []byte(`{"a":1,"b":2}`), true},
		{"different node", "run1", "node2", []byte(`{"a":1,"b":2}`), false},
		{"different input", "run1", "node1", []byte(`{"a":1,"b":3}`), false},
		{"different namespace", "run2", "node1", []byte(`{"a":1,"b":2}`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.namespace, tt.nodeID, tt.input)
			if (got == a) != tt.wantSameAsFirst {
				t.Errorf("Fingerprint() = %s, same-as-base = %v, want %v",
					got, got == a, tt.wantSameAsFirst)
			}
		})
	}
}

func TestFingerprintNamespacePrefix(t *testing.T) {
	fp := Fingerprint("ns", "node", []byte("x"))
	if len(fp) < 4 || fp[:3] != "ns:" {
		t.Errorf("fingerprint %q not prefixed with namespace", fp)
	}
}

func TestFingerprintNonJSONInput(t *testing.T) {
	a := Fingerprint("ns", "node", []byte("plain text"))
	b := Fingerprint("ns", "node", []byte("plain text"))
	if a != b {
		t.Error("non-JSON input not stable")
	}
}

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want miss", ok, err)
	}

	if err := s.Set(ctx, "fp1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v err=%v, want hit", ok, err)
	}
	if string(got) != "v1" {
		t.Errorf("Get() = %q, want v1", got)
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "fp", []byte("first"), time.Minute)
	s.Set(ctx, "fp", []byte("second"), time.Minute)

	got, ok, _ := s.Get(ctx, "fp")
	if !ok || string(got) != "second" {
		t.Errorf("Get() = %q ok=%v, want second", got, ok)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "fp", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "fp"); ok {
		t.Error("expired entry returned as hit")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after lazy eviction, want 0", s.Len())
	}
}

func TestMemoryStoreInvalidateNamespace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, Fingerprint("run1", "a", []byte("x")), []byte("1"), time.Minute)
	s.Set(ctx, Fingerprint("run1", "b", []byte("y")), []byte("2"), time.Minute)
	other := Fingerprint("run2", "a", []byte("x"))
	s.Set(ctx, other, []byte("3"), time.Minute)

	if err := s.Invalidate(ctx, "run1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d after invalidation, want 1", s.Len())
	}
	if _, ok, _ := s.Get(ctx, other); !ok {
		t.Error("other namespace was invalidated too")
	}
}

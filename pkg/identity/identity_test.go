package identity

import (
	"testing"
	"time"
)

func TestDeriveIDDeterministic(t *testing.T) {
	for _, raw := range []string{"Alice", "Friends", "", "文件传输助手"} {
		first := DeriveID(raw)
		for i := 0; i < 3; i++ {
			if got := DeriveID(raw); got != first {
				t.Fatalf("DeriveID(%q) not stable: %s vs %s", raw, got, first)
			}
		}
		if len(first) != 32 {
			t.Fatalf("expected 32 hex chars, got %d (%s)", len(first), first)
		}
	}
	if DeriveID("Alice") == DeriveID("Bob") {
		t.Fatalf("distinct inputs should not collide")
	}
}

func TestDeriveIDKnownDigest(t *testing.T) {
	if got := DeriveID("hello"); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Fatalf("unexpected md5 of hello: %s", got)
	}
}

func TestNextMessageIDNoCollisions(t *testing.T) {
	g := NewGenerator()
	frozen := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return frozen }

	seen := make(map[string]struct{}, 10_000)
	for i := 0; i < 10_000; i++ {
		id := g.NextMessageID("Alice", "Friends")
		if _, dup := seen[id]; dup {
			t.Fatalf("collision after %d ids: %s", i, id)
		}
		seen[id] = struct{}{}
	}
	if g.Issued() != 10_000 {
		t.Fatalf("expected 10000 issued, got %d", g.Issued())
	}
}

func TestGeneratorsAreIndependent(t *testing.T) {
	a, b := NewGenerator(), NewGenerator()
	a.NextMessageID("x", "y")
	a.NextMessageID("x", "y")
	b.NextMessageID("x", "y")
	if a.Issued() != 2 || b.Issued() != 1 {
		t.Fatalf("counters leaked between generators: a=%d b=%d", a.Issued(), b.Issued())
	}
}

package player

import (
	"context"
	"testing"
)

func TestRegistryCreatesOnce(t *testing.T) {
	created := 0
	reg := NewRegistry(func(id string) *Session {
		created++
		return NewSession(context.Background(), id, Deps{})
	})

	a := reg.Get("guild-a")
	if a == nil || a.ID() != "guild-a" {
		t.Fatalf("got %v, want session for guild-a", a)
	}
	if reg.Get("guild-a") != a {
		t.Fatal("second Get returned a different session")
	}
	if created != 1 {
		t.Fatalf("factory calls = %d, want 1", created)
	}

	b := reg.Get("guild-b")
	if b == a {
		t.Fatal("distinct ids must get distinct sessions")
	}
	if created != 2 {
		t.Fatalf("factory calls = %d, want 2", created)
	}
}

func TestRegistryPeek(t *testing.T) {
	reg := NewRegistry(func(id string) *Session {
		return NewSession(context.Background(), id, Deps{})
	})
	if reg.Peek("nope") != nil {
		t.Fatal("peek must not create sessions")
	}
	s := reg.Get("guild-a")
	if reg.Peek("guild-a") != s {
		t.Fatal("peek should return the existing session")
	}
}

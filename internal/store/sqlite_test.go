package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndFetchUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "pat@example.com", "Pat", "patient", "hunter2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "pat@example.com")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got == nil || got.ID != created.ID || got.Role != "patient" {
		t.Fatalf("user = %+v, want id %s role patient", got, created.ID)
	}
}

func TestGetUserByEmailMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetUserByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != nil {
		t.Fatalf("user = %+v, want nil", got)
	}
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, "d@example.com", "Dee", "driver", "secret"); err != nil {
		t.Fatalf("create: %v", err)
	}

	user, err := s.Authenticate(ctx, "d@example.com", "secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user == nil || user.Role != "driver" {
		t.Fatalf("user = %+v, want driver", user)
	}

	user, err = s.Authenticate(ctx, "d@example.com", "wrong")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user != nil {
		t.Fatal("wrong password authenticated")
	}
}

func TestSeedAdmin(t *testing.T) {
	s := newTestStore(t)
	user, err := s.GetUserByEmail(context.Background(), "admin@lifeline.io")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if user == nil || user.Role != "admin" {
		t.Fatalf("seeded admin = %+v", user)
	}
}

package build

import (
	"errors"
	"testing"
)

type stubIdentitySource struct {
	identity UserIdentity
	err      error
}

func (s stubIdentitySource) Identity() (UserIdentity, error) {
	return s.identity, s.err
}

func TestResolveIdentityFallsBackToRoot(t *testing.T) {
	t.Parallel()

	got := ResolveIdentity(stubIdentitySource{err: errors.New("no passwd entry")})

	if got.UID != 0 || got.GID != 0 || got.Name != "root" {
		t.Fatalf("ResolveIdentity() = %+v, want uid 0, gid 0, root", got)
	}
}

func TestResolveIdentityFillsMissingFields(t *testing.T) {
	t.Parallel()

	got := ResolveIdentity(stubIdentitySource{identity: UserIdentity{UID: -1, GID: -1}})

	if got.UID != 0 || got.GID != 0 {
		t.Fatalf("negative ids should clamp to 0, got %+v", got)
	}
	if got.Name != "root" {
		t.Fatalf("empty name should default to root, got %q", got.Name)
	}
}

func TestResolveIdentityKeepsKnownUser(t *testing.T) {
	t.Parallel()

	want := UserIdentity{UID: 1000, GID: 1000, Name: "dev"}
	got := ResolveIdentity(stubIdentitySource{identity: want})

	if got != want {
		t.Fatalf("ResolveIdentity() = %+v, want %+v", got, want)
	}
}

func TestUserIdentityArguments(t *testing.T) {
	t.Parallel()

	args := UserIdentity{UID: 1000, GID: 984, Name: "dev"}.Arguments()

	if args["USER_UID"] != "1000" || args["USER_GID"] != "984" || args["USERNAME"] != "dev" {
		t.Fatalf("unexpected identity arguments: %v", args)
	}
}

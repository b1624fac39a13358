package app

import (
	"context"
	"errors"
	"testing"
)

func TestHasPrivilegedAccess(t *testing.T) {
	privileged := map[UserRole]bool{
		RoleRoot:        true,
		RoleAdmin:       true,
		RoleDataManager: true,
		RoleEditor:      false,
		RoleContributor: false,
		RoleViewer:      false,
		RoleGuest:       false,
		UserRole("ops"): false,
		UserRole(""):    false,
	}
	for role, want := range privileged {
		if got := HasPrivilegedAccess(role); got != want {
			t.Errorf("HasPrivilegedAccess(%q) = %v, want %v", role, got, want)
		}
	}
}

func TestSuperuserBypassesEmptyRegistry(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(newTestStore(t), NewLogger(nil))

	user, err := auth.Login(ctx, "  OVERSEER ", superuserKey)
	if err != nil {
		t.Fatalf("superuser login: %v", err)
	}
	if user.Role != RoleRoot {
		t.Fatalf("superuser must resolve to root, got %q", user.Role)
	}
}

func TestLoginMatchesNameCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	auth := NewAuthenticator(store, NewLogger(nil))

	provisioned, err := auth.ProvisionUser(ctx, "Ada Lovelace", "engine-1843", RoleEditor)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	user, err := auth.Login(ctx, "ada lovelace", "engine-1843")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != provisioned.ID || user.Role != RoleEditor {
		t.Fatalf("wrong identity resolved: %#v", user)
	}

	// The access key match is exact.
	if _, err := auth.Login(ctx, "ada lovelace", "ENGINE-1843"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for wrong key, got %v", err)
	}
	if _, err := auth.Login(ctx, "nobody", "engine-1843"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for unknown name, got %v", err)
	}
}

func TestLoginPersistsAndLogoutClearsCurrentUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	auth := NewAuthenticator(store, NewLogger(nil))

	if _, err := auth.ProvisionUser(ctx, "Grace", "cobol-key", RoleAdmin); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := auth.Login(ctx, "grace", "cobol-key"); err != nil {
		t.Fatalf("login: %v", err)
	}

	current, err := auth.CurrentUser()
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current == nil || current.Name != "Grace" {
		t.Fatalf("current user not persisted: %#v", current)
	}

	if err := auth.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	current, err = auth.CurrentUser()
	if err != nil {
		t.Fatalf("current user after logout: %v", err)
	}
	if current != nil {
		t.Fatalf("current user survived logout: %#v", current)
	}
}

func TestGuestEntryMintsVisitorIdentity(t *testing.T) {
	auth := NewAuthenticator(newTestStore(t), NewLogger(nil))

	guest, err := auth.GuestEntry()
	if err != nil {
		t.Fatalf("guest entry: %v", err)
	}
	if guest.Role != RoleGuest {
		t.Fatalf("expected guest role, got %q", guest.Role)
	}
	current, err := auth.CurrentUser()
	if err != nil || current == nil || current.ID != guest.ID {
		t.Fatalf("guest not persisted: current=%#v err=%v", current, err)
	}
}

func TestRequirePrivileged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	auth := NewAuthenticator(store, NewLogger(nil))

	// Nobody signed in.
	if _, err := auth.RequirePrivileged(); !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("expected ErrPrivilegeRequired with no user, got %v", err)
	}

	// A viewer is signed in but not privileged.
	if _, err := auth.ProvisionUser(ctx, "Vera", "view-key", RoleViewer); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := auth.Login(ctx, "vera", "view-key"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := auth.RequirePrivileged(); !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("expected ErrPrivilegeRequired for viewer, got %v", err)
	}

	// A data manager passes the gate.
	if _, err := auth.ProvisionUser(ctx, "Dana", "dm-key", RoleDataManager); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := auth.Login(ctx, "dana", "dm-key"); err != nil {
		t.Fatalf("login: %v", err)
	}
	user, err := auth.RequirePrivileged()
	if err != nil {
		t.Fatalf("data manager must pass the gate: %v", err)
	}
	if user.Name != "Dana" {
		t.Fatalf("wrong user through the gate: %#v", user)
	}
}

func TestParseRole(t *testing.T) {
	if role, ok := ParseRole("  Admin "); !ok || role != RoleAdmin {
		t.Fatalf("ParseRole(Admin) = %q, %v", role, ok)
	}
	if role, ok := ParseRole("data_manager"); !ok || role != RoleDataManager {
		t.Fatalf("ParseRole(data_manager) = %q, %v", role, ok)
	}
	if _, ok := ParseRole("ops"); ok {
		t.Fatalf("unknown role must not parse")
	}
}

func TestProvisionAndDeleteUser(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(newTestStore(t), NewLogger(nil))

	u, err := auth.ProvisionUser(ctx, "Linus", "kernel-key", RoleContributor)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	users, err := auth.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].ID != u.ID {
		t.Fatalf("registry mismatch: %#v", users)
	}

	if err := auth.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	users, err = auth.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("user survived delete: %#v", users)
	}

	if _, err := auth.ProvisionUser(ctx, "", "key", RoleViewer); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

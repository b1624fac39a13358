package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed superuser pair. Bypasses the registry entirely and always resolves to
// root, even against an empty registry. Credentials are compared in client
// memory; this gates availability only, not real security.
const (
	superuserName = "overseer"
	superuserKey  = "9845-1895-48"
)

const labEmailDomain = "neural.lab"

// HasPrivilegedAccess reports whether the role may see and use registry
// management, protocol authoring, and destructive store controls.
func HasPrivilegedAccess(role UserRole) bool {
	switch role {
	case RoleRoot, RoleAdmin, RoleDataManager:
		return true
	}
	return false
}

// ParseRole maps a user-supplied role string to a known role.
func ParseRole(s string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(s)))
	switch role {
	case RoleRoot, RoleAdmin, RoleDataManager, RoleEditor, RoleContributor, RoleViewer, RoleGuest:
		return role, true
	}
	return "", false
}

// Authenticator resolves identities against the registry collection and keeps
// the auxiliary current-user record in sync.
type Authenticator struct {
	store  *RecordStore
	logger *Logger
}

func NewAuthenticator(store *RecordStore, logger *Logger) *Authenticator {
	return &Authenticator{store: store, logger: logger}
}

// Login matches name case-insensitively and the access key exactly. Failure
// is ErrAuthFailure with no further detail.
func (a *Authenticator) Login(ctx context.Context, name, key string) (User, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSpace(key)

	if name == superuserName && key == superuserKey {
		root := User{
			ID:      "root",
			Name:    "Overseer",
			Email:   "admin@" + labEmailDomain,
			Role:    RoleRoot,
			Picture: avatarURL("Overseer"),
		}
		if err := a.store.SaveCurrentUser(root); err != nil {
			return User{}, err
		}
		return root, nil
	}

	users, err := loadAll[User](ctx, a.store, CollectionRegistry)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if strings.ToLower(u.Name) == name && u.AccessKey == key {
			if err := a.store.SaveCurrentUser(u); err != nil {
				return User{}, err
			}
			return u, nil
		}
	}
	return User{}, ErrAuthFailure
}

// GuestEntry mints a visitor identity without credentials.
func (a *Authenticator) GuestEntry() (User, error) {
	now := time.Now().UnixMilli()
	guest := User{
		ID:      fmt.Sprintf("guest-%d", now),
		Name:    "Guest Node",
		Email:   "visitor@" + labEmailDomain,
		Role:    RoleGuest,
		Picture: avatarURL(fmt.Sprintf("Guest-%d", now)),
	}
	if err := a.store.SaveCurrentUser(guest); err != nil {
		return User{}, err
	}
	return guest, nil
}

// CurrentUser returns the persisted identity, or nil when logged out.
func (a *Authenticator) CurrentUser() (*User, error) {
	return a.store.LoadCurrentUser()
}

func (a *Authenticator) Logout() error {
	return a.store.ClearCurrentUser()
}

// RequirePrivileged returns the signed-in user when their role passes the
// privileged gate. Registry management, protocol authoring, and purge all go
// through this before touching the store.
func (a *Authenticator) RequirePrivileged() (*User, error) {
	u, err := a.CurrentUser()
	if err != nil {
		return nil, err
	}
	if u == nil || !HasPrivilegedAccess(u.Role) {
		return nil, ErrPrivilegeRequired
	}
	return u, nil
}

// ProvisionUser creates a registry entry. Name uniqueness keeps login
// unambiguous but is the caller's concern; the store does not enforce it.
func (a *Authenticator) ProvisionUser(ctx context.Context, name, key string, role UserRole) (User, error) {
	name = strings.TrimSpace(name)
	key = strings.TrimSpace(key)
	if name == "" || key == "" {
		return User{}, fmt.Errorf("name and access key are required")
	}
	u := User{
		ID:        "usr-" + uuid.NewString(),
		Name:      name,
		Email:     strings.ReplaceAll(strings.ToLower(name), " ", "") + "@" + labEmailDomain,
		Role:      role,
		AccessKey: key,
		Picture:   avatarURL(name),
	}
	if err := a.store.Put(ctx, CollectionRegistry, u.ID, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (a *Authenticator) DeleteUser(ctx context.Context, id string) error {
	return a.store.Delete(ctx, CollectionRegistry, id)
}

func (a *Authenticator) ListUsers(ctx context.Context) ([]User, error) {
	return loadAll[User](ctx, a.store, CollectionRegistry)
}

func avatarURL(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + strings.ReplaceAll(seed, " ", "")
}

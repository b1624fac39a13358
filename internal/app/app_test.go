package app

import (
	"context"
	"testing"
)

func TestNewApplicationMockModeWiring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.SyncDelayMs = 0

	application, err := NewApplication(cfg, true)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if _, ok := application.Transport.(*MockTransport); !ok {
		t.Fatalf("mock mode must wire the mock transport, got %T", application.Transport)
	}

	user, err := application.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if user != nil {
		t.Fatalf("fresh data dir must have no current user, got %#v", user)
	}
}

func TestNewApplicationRealTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.APIKey = "k-test"

	application, err := NewApplication(cfg, false)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if _, ok := application.Transport.(*GeminiClient); !ok {
		t.Fatalf("expected the live client, got %T", application.Transport)
	}
}

func TestInitializeRestoresSignedInUser(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.SyncDelayMs = 0

	application, err := NewApplication(cfg, true)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Store.SaveCurrentUser(User{ID: "u1", Name: "Ada", Role: RoleAdmin}); err != nil {
		t.Fatalf("save current user: %v", err)
	}

	// A second application over the same data dir sees the persisted identity.
	restored, err := NewApplication(cfg, true)
	if err != nil {
		t.Fatalf("second application: %v", err)
	}
	user, err := restored.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if user == nil || user.ID != "u1" || user.Role != RoleAdmin {
		t.Fatalf("persisted user not restored: %#v", user)
	}
}

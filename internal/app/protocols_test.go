package app

import (
	"context"
	"errors"
	"testing"
)

func newTestProtocols(t *testing.T, transport Transport) (*ProtocolRegistry, *RecordStore) {
	t.Helper()
	store := newTestStore(t)
	return NewProtocolRegistry(store, transport, NewLogger(nil)), store
}

func TestProtocolCreateListDelete(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestProtocols(t, NewMockTransport())

	created, err := registry.Create(ctx, Protocol{Title: "Zig Mode", SystemInstruction: "comptime everything"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("create must assign an id")
	}

	got, err := registry.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "Zig Mode" {
		t.Fatalf("lookup mismatch: %#v", got)
	}

	// Absent id resolves to nil, not an error: dangling selection means no
	// override.
	if got, err := registry.Get(ctx, "gone"); err != nil || got != nil {
		t.Fatalf("dangling id must resolve to nil: got=%#v err=%v", got, err)
	}

	if err := registry.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	protocols, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(protocols) != 0 {
		t.Fatalf("protocol survived delete: %#v", protocols)
	}
}

func TestEvolveCreatesEvolvedRecord(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestProtocols(t, NewMockTransport())

	p, err := registry.Evolve(ctx, "strict Rust reviewer")
	if err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if !p.IsEvolved {
		t.Fatalf("evolved protocol not flagged")
	}
	if p.SystemInstruction == "" {
		t.Fatalf("evolved protocol missing system instruction")
	}
	protocols, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(protocols) != 1 {
		t.Fatalf("expected 1 committed protocol, got %d", len(protocols))
	}
}

func TestEvolveSynthesisFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestProtocols(t, NewMockTransport())

	// The mock rejects an empty demand, standing in for unparseable output.
	_, err := registry.Evolve(ctx, "   ")
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	protocols, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(protocols) != 0 {
		t.Fatalf("partial record committed on synthesis failure: %#v", protocols)
	}
}

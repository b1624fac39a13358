package app

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ProtocolRegistry manages instruction-override records in the protocols
// collection. A thin specialization of the record store.
type ProtocolRegistry struct {
	store     *RecordStore
	transport Transport
	logger    *Logger
}

func NewProtocolRegistry(store *RecordStore, transport Transport, logger *Logger) *ProtocolRegistry {
	return &ProtocolRegistry{store: store, transport: transport, logger: logger}
}

func (r *ProtocolRegistry) Create(ctx context.Context, p Protocol) (Protocol, error) {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = "ev-" + uuid.NewString()
	}
	if err := r.store.Put(ctx, CollectionProtocols, p.ID, p); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

func (r *ProtocolRegistry) List(ctx context.Context) ([]Protocol, error) {
	return loadAll[Protocol](ctx, r.store, CollectionProtocols)
}

// Get returns nil when the id is absent; a dangling selection means no
// override.
func (r *ProtocolRegistry) Get(ctx context.Context, id string) (*Protocol, error) {
	protocols, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range protocols {
		if protocols[i].ID == id {
			return &protocols[i], nil
		}
	}
	return nil, nil
}

func (r *ProtocolRegistry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, CollectionProtocols, id)
}

// Evolve synthesizes a protocol from a free-text demand and commits it. A
// synthesis failure aborts with no partial record.
func (r *ProtocolRegistry) Evolve(ctx context.Context, demand string) (Protocol, error) {
	spec, err := r.transport.SynthesizeProtocol(ctx, demand)
	if err != nil {
		return Protocol{}, &SynthesisError{Err: err}
	}
	p := Protocol{
		Title:             spec.Title,
		Desc:              spec.Desc,
		SystemInstruction: spec.SystemInstruction,
		IconName:          spec.IconName,
		IsEvolved:         true,
	}
	return r.Create(ctx, p)
}

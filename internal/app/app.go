package app

import (
	"context"
)

// Application wires the persistence engine, the streaming assembler, and the
// auth layer behind one handle the front ends hold.
type Application struct {
	Config    Config
	Logger    *Logger
	Store     *RecordStore
	Sessions  *SessionRepository
	Auth      *Authenticator
	Protocols *ProtocolRegistry
	Assembler *Assembler
	Transport Transport
}

func NewApplication(cfg Config, mockMode bool) (*Application, error) {
	logger := NewLogger(DefaultLogWriter())

	store, err := NewRecordStore(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	store.HandshakeDelay = cfg.SyncDelay()

	var transport Transport
	if mockMode {
		transport = NewMockTransport()
	} else {
		transport = NewGeminiClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	}

	sessions := NewSessionRepository(store, logger)
	protocols := NewProtocolRegistry(store, transport, logger)

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Sessions:  sessions,
		Auth:      NewAuthenticator(store, logger),
		Protocols: protocols,
		Assembler: NewAssembler(sessions, protocols, transport, logger),
		Transport: transport,
	}, nil
}

// Initialize loads the persisted current user and warms the in-memory session
// view. A missing user is not an error; the caller shows the login surface.
func (a *Application) Initialize(ctx context.Context) (*User, error) {
	user, err := a.Store.LoadCurrentUser()
	if err != nil {
		return nil, err
	}
	if _, err := a.Sessions.LoadAll(ctx); err != nil {
		return user, err
	}
	return user, nil
}

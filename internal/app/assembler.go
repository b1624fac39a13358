package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// historyWindow bounds how much conversation context is sent upstream.
// Fixed; only the most recent messages of the target session go out.
const historyWindow = 10

const defaultSystemInstruction = `You are the Neural Lab Polyglot Core.
Mission: polyglot software engineering, code synthesis, and security auditing.
Generate clean, production-ready code, explain architectural decisions, and
scan every snippet you produce or analyze for common vulnerabilities.
Style: professional, technical, detailed.`

const visitorSystemInstruction = "You are the Polyglot Core Liaison. Welcome the visitor. " +
	"Remind them you understand all coding languages and follow high-security protocols."

// ImagePayload is an attached image forwarded verbatim to the transport.
type ImagePayload struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
}

type HistoryTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type StreamRequest struct {
	Message           string
	History           []HistoryTurn
	Image             *ImagePayload
	SystemInstruction string
}

// StreamChunk is one unit of a streamed reply. Text is the cumulative reply
// so far, not a delta. A non-nil Err terminates the sequence.
type StreamChunk struct {
	Text      string
	Grounding []GroundingURL
	Err       error
}

// ProtocolSpec is the structured result of protocol synthesis.
type ProtocolSpec struct {
	Title             string `json:"title"`
	Desc              string `json:"desc"`
	SystemInstruction string `json:"systemInstruction"`
	IconName          string `json:"iconName"`
}

// Transport is the remote model endpoint. The chunk channel is closed when
// the finite sequence ends; it is not restartable.
type Transport interface {
	SendMessageStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error)
	SynthesizeProtocol(ctx context.Context, demand string) (ProtocolSpec, error)
}

// Assembler drives one request/response exchange end to end: ensure a session
// exists, append the user message and a placeholder model message, fold the
// chunk sequence into the placeholder, and commit the final session state.
type Assembler struct {
	Sessions  *SessionRepository
	Protocols *ProtocolRegistry
	Transport Transport
	Logger    *Logger
}

func NewAssembler(sessions *SessionRepository, protocols *ProtocolRegistry, transport Transport, logger *Logger) *Assembler {
	return &Assembler{
		Sessions:  sessions,
		Protocols: protocols,
		Transport: transport,
		Logger:    logger,
	}
}

type SendOptions struct {
	// SessionID selects the target session; empty creates one from the
	// message text before any network call.
	SessionID string
	// Role is the caller's role; guests fall back to the visitor instruction
	// when no protocol override is active.
	Role UserRole
	// ProtocolID optionally overrides the system instruction. A dangling id
	// is treated as no override.
	ProtocolID string
	Image      *ImagePayload
}

// Send runs the full exchange and returns the id of the session it wrote to.
// On transport failure the placeholder keeps whatever partial text already
// arrived; nothing is rolled back and no durable commit happens for the turn.
func (a *Assembler) Send(ctx context.Context, text string, opts SendOptions) (string, error) {
	// Opportunistic retry of commits that failed on earlier turns.
	if err := a.Sessions.FlushDirty(ctx); err != nil {
		a.Logger.Warn("dirty session retry failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sid := opts.SessionID
	if sid == "" {
		sid = a.Sessions.CreateSession(text).ID
	}

	// History is the window of messages that existed before this turn.
	var history []HistoryTurn
	if sess, ok := a.Sessions.Get(sid); ok {
		msgs := sess.Messages
		if len(msgs) > historyWindow {
			msgs = msgs[len(msgs)-historyWindow:]
		}
		history = make([]HistoryTurn, 0, len(msgs))
		for _, m := range msgs {
			history = append(history, HistoryTurn{Role: m.Role, Text: m.Text})
		}
	}

	now := time.Now().UnixMilli()
	userMsg := Message{ID: newMessageID(), Role: "user", Text: text, Timestamp: now}
	modelMsg := Message{ID: newMessageID(), Role: "model", Text: "", Timestamp: now, GroundingURLs: []GroundingURL{}}
	a.Sessions.AppendMessages(sid, userMsg, modelMsg)

	token := a.Sessions.BeginRequest(sid)

	req := StreamRequest{
		Message:           text,
		History:           history,
		Image:             opts.Image,
		SystemInstruction: a.resolveInstruction(ctx, opts),
	}

	ch, err := a.Transport.SendMessageStream(ctx, req)
	if err != nil {
		a.Logger.Error("stream open failed", map[string]interface{}{
			"session_id": sid,
			"error":      err.Error(),
		})
		return sid, &TransportError{Err: err}
	}

	for chunk := range ch {
		if chunk.Err != nil {
			a.Logger.Error("stream aborted", map[string]interface{}{
				"session_id": sid,
				"error":      chunk.Err.Error(),
			})
			return sid, &TransportError{Err: chunk.Err}
		}
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation between chunks; partial text stays.
			return sid, &TransportError{Err: err}
		}
		if !a.Sessions.TokenValid(sid, token) {
			// A newer request owns the session; discard the stale write and
			// stop consuming.
			a.Logger.Warn("discarding stale stream", map[string]interface{}{"session_id": sid})
			return sid, nil
		}
		a.Sessions.UpdateMessage(sid, modelMsg.ID, chunk.Text, chunk.Grounding)
	}

	// A cancel-aware transport closes the channel instead of emitting into a
	// dead context, so the loop can end without seeing the cancellation.
	if err := ctx.Err(); err != nil {
		return sid, &TransportError{Err: err}
	}

	if !a.Sessions.TokenValid(sid, token) {
		return sid, nil
	}

	// One durable put per request, of the live session state, at the end.
	if err := a.Sessions.Commit(ctx, sid); err != nil {
		a.Logger.Error("session commit failed", map[string]interface{}{
			"session_id": sid,
			"error":      err.Error(),
		})
		return sid, err
	}
	return sid, nil
}

func (a *Assembler) resolveInstruction(ctx context.Context, opts SendOptions) string {
	if opts.ProtocolID != "" && a.Protocols != nil {
		if p, err := a.Protocols.Get(ctx, opts.ProtocolID); err == nil && p != nil {
			return p.SystemInstruction
		}
	}
	if opts.Role == RoleGuest {
		return visitorSystemInstruction
	}
	return defaultSystemInstruction
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

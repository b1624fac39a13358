package app

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockTransport simulates the remote model for keyless runs and tests. Unless
// scripted, it streams a canned reply as cumulative prefixes the way the real
// endpoint does.
type MockTransport struct {
	// Chunks, when set, is replayed verbatim instead of the canned reply.
	Chunks []StreamChunk
	// Err, when set, fails the stream open.
	Err error
	// Delay between chunks; zero streams as fast as the consumer reads.
	Delay time.Duration

	// LastRequest records the most recent stream request for assertions.
	LastRequest *StreamRequest
}

func NewMockTransport() *MockTransport {
	return &MockTransport{Delay: 30 * time.Millisecond}
}

func (m *MockTransport) SendMessageStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	reqCopy := req
	m.LastRequest = &reqCopy
	if m.Err != nil {
		return nil, m.Err
	}

	chunks := m.Chunks
	if chunks == nil {
		chunks = cannedChunks(req.Message)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			if m.Delay > 0 {
				t := time.NewTimer(m.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MockTransport) SynthesizeProtocol(ctx context.Context, demand string) (ProtocolSpec, error) {
	demand = strings.TrimSpace(demand)
	if demand == "" {
		return ProtocolSpec{}, fmt.Errorf("empty demand")
	}
	title := demand
	if len(title) > 24 {
		title = title[:24]
	}
	title = strings.ToUpper(title[:1]) + title[1:]
	return ProtocolSpec{
		Title:             title,
		Desc:              "Simulated protocol for: " + demand,
		SystemInstruction: "You are a specialist focused on: " + demand + ". Apply strict engineering rigor.",
		IconName:          "Terminal",
	}, nil
}

// cannedChunks builds a cumulative-prefix stream for a plausible offline
// reply, with a citation attached near the end like search grounding would.
func cannedChunks(message string) []StreamChunk {
	reply := fmt.Sprintf(
		"Running in simulated uplink mode, no API key configured.\n\n"+
			"Your request was: %q.\n\n"+
			"```go\nfunc answer() string {\n\treturn \"connect a real endpoint for live synthesis\"\n}\n```",
		message,
	)
	words := strings.SplitAfter(reply, " ")
	chunks := make([]StreamChunk, 0, len(words)/3+1)
	var cumulative strings.Builder
	for i, w := range words {
		cumulative.WriteString(w)
		if i%3 == 2 || i == len(words)-1 {
			chunks = append(chunks, StreamChunk{Text: cumulative.String(), Grounding: []GroundingURL{}})
		}
	}
	if n := len(chunks); n > 0 {
		chunks[n-1].Grounding = []GroundingURL{{Title: "Engineering Reference", URI: "https://pkg.go.dev"}}
	}
	return chunks
}

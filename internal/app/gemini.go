package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiClient streams replies from a Gemini-style endpoint. It satisfies
// Transport and is passed in explicitly wherever a stream is consumed, so
// tests can substitute a fake.
type GeminiClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func NewGeminiClient(apiKey, model, baseURL string) *GeminiClient {
	if model == "" {
		model = "gemini-3-pro-preview"
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type geminiPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type geminiGenCfg struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					Title string `json:"title"`
					URI   string `json:"uri"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendMessageStream yields chunks carrying the cumulative reply text. The
// returned channel is closed when the upstream stream ends; a mid-stream
// failure is delivered as a final chunk with Err set.
func (c *GeminiClient) SendMessageStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	if c.APIKey == "" {
		return nil, errors.New("api key is required for uplink")
	}

	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}},
	}
	for _, turn := range req.History {
		body.Contents = append(body.Contents, geminiContent{
			Role:  turn.Role,
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	userParts := []geminiPart{{Text: req.Message}}
	if req.Image != nil {
		userParts = append(userParts, geminiPart{InlineData: &struct {
			MimeType string `json:"mimeType"`
			Data     string `json:"data"`
		}{MimeType: req.Image.MimeType, Data: req.Image.Data}})
	} else {
		// Search grounding is only requested for text turns, matching the
		// image path having no citations.
		body.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}
	body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: userParts})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.BaseURL, c.Model)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return nil, fmt.Errorf("uplink request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var errResp geminiResponse
		_ = json.Unmarshal(raw, &errResp)
		if errResp.Error != nil {
			return nil, fmt.Errorf("uplink error: status %d, message: %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("uplink error: status %d, response: %s", resp.StatusCode, string(raw))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var accumulated strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			var event geminiResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if event.Error != nil {
				c.emit(ctx, out, StreamChunk{Err: fmt.Errorf("uplink error: %s", event.Error.Message)})
				return
			}
			if len(event.Candidates) == 0 {
				continue
			}
			cand := event.Candidates[0]
			for _, part := range cand.Content.Parts {
				accumulated.WriteString(part.Text)
			}
			grounding := []GroundingURL{}
			if cand.GroundingMetadata != nil {
				for _, gc := range cand.GroundingMetadata.GroundingChunks {
					if gc.Web == nil || gc.Web.URI == "" {
						continue
					}
					title := gc.Web.Title
					if title == "" {
						title = "Engineering Reference"
					}
					grounding = append(grounding, GroundingURL{Title: title, URI: gc.Web.URI})
				}
			}
			if !c.emit(ctx, out, StreamChunk{Text: accumulated.String(), Grounding: grounding}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.emit(ctx, out, StreamChunk{Err: err})
		}
	}()
	return out, nil
}

func (c *GeminiClient) emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// SynthesizeProtocol asks the model to translate a free-text demand into a
// structured protocol record, constrained by a response schema.
func (c *GeminiClient) SynthesizeProtocol(ctx context.Context, demand string) (ProtocolSpec, error) {
	if c.APIKey == "" {
		return ProtocolSpec{}, errors.New("api key is required for uplink")
	}

	prompt := fmt.Sprintf(`User demand for the Polyglot Core: %q.
Translate this into a specific coding protocol.
Example: a demand for "Rust expert" should enforce strict memory safety checks.
Return strictly JSON with title, desc, systemInstruction, and iconName.`, demand)

	schema := json.RawMessage(`{
		"type": "OBJECT",
		"properties": {
			"title": {"type": "STRING"},
			"desc": {"type": "STRING"},
			"systemInstruction": {"type": "STRING"},
			"iconName": {"type": "STRING"}
		},
		"required": ["title", "desc", "systemInstruction", "iconName"]
	}`)

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &geminiGenCfg{
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ProtocolSpec{}, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, c.Model)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ProtocolSpec{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return ProtocolSpec{}, fmt.Errorf("uplink request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProtocolSpec{}, err
	}
	if resp.StatusCode >= 300 {
		return ProtocolSpec{}, fmt.Errorf("uplink error: status %d, response: %s", resp.StatusCode, string(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ProtocolSpec{}, err
	}
	if parsed.Error != nil {
		return ProtocolSpec{}, fmt.Errorf("uplink error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return ProtocolSpec{}, errors.New("empty synthesis response")
	}

	var spec ProtocolSpec
	text := parsed.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &spec); err != nil {
		return ProtocolSpec{}, fmt.Errorf("unparseable synthesis output: %w", err)
	}
	return spec, nil
}

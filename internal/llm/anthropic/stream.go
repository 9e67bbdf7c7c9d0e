// Package anthropic adapts llm.Client to the Anthropic Messages API.
// Grounded on the teacher's
// internal/llm/provider/anthropic/{client_impl.go,tool_loop.go}:
// streamSingleTurn's SSE parsing is kept close to verbatim (content_block
// event bookkeeping, text_delta/input_json_delta handling), while the
// surrounding multi-turn loop is dropped — that responsibility now
// belongs to internal/driver.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/llm"
	"github.com/loomctl/loom-agent/internal/model"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 4096
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
)

// supportedModelPrefixes enumerates the model families this client
// accepts a request-level override for, matching the teacher's own
// provider/anthropic/client.go doc-comment ("Supported Models:
// claude-3-5-sonnet, claude-3-opus, claude-3-sonnet, claude-3-haiku").
// Dated snapshot identifiers (e.g. "claude-3-5-sonnet-20241022") are
// accepted as long as they start with one of these family names.
var supportedModelPrefixes = []string{
	"claude-3-5-sonnet",
	"claude-3-opus",
	"claude-3-sonnet",
	"claude-3-haiku",
}

// SupportedModels implements llm.Client. It returns the family prefixes
// accepted by IsSupportedModel, not an exhaustive list of dated snapshot
// identifiers.
func (c *Client) SupportedModels() []string {
	out := make([]string, len(supportedModelPrefixes))
	copy(out, supportedModelPrefixes)
	return out
}

// IsSupportedModel reports whether modelName matches one of this
// client's supported model families.
func IsSupportedModel(modelName string) bool {
	for _, prefix := range supportedModelPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			return true
		}
	}
	return false
}

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client. apiKey/modelName fall back to
// ANTHROPIC_API_KEY/ANTHROPIC_MODEL when empty, matching the teacher's
// env-var precedence.
func New(apiKey, modelName, baseURL string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key required")
	}
	if modelName == "" {
		modelName = os.Getenv("ANTHROPIC_MODEL")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	maxTokens := DefaultMaxTokens
	if v := os.Getenv("ANTHROPIC_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxTokens = n
		}
	}
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey: apiKey, model: modelName, maxTokens: maxTokens, baseURL: baseURL,
		httpClient: &http.Client{}, // no hard timeout; caller's ctx governs cancellation
	}, nil
}

var _ llm.Client = (*Client)(nil)

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []anthMessage `json:"messages"`
	Tools     []anthTool    `json:"tools,omitempty"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream"`
}

type sseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type sseEvent struct {
	Type         string        `json:"type"`
	Delta        *sseDelta     `json:"delta,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
}

// Stream implements llm.Client. It performs exactly one Anthropic
// Messages API call with stream=true and forwards text/tool_use blocks
// as they arrive.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	body, err := json.Marshal(c.toAnthRequest(req))
	if err != nil {
		return nil, apierr.BadParams(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.Unreachable(err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, apierr.APIError(resp.StatusCode, string(b))
	}

	out := make(chan llm.Event, 64)
	go c.pump(ctx, resp.Body, out)
	return out, nil
}

// toAnthRequest converts the provider-agnostic llm.Request into the
// Anthropic wire shape, folding any RoleTool message into a user turn
// carrying a tool_result block (grounded on the teacher's convertMessages
// plus tool_loop.go's "Append user turn with tool_result blocks" step).
func (c *Client) toAnthRequest(req llm.Request) anthRequest {
	msgs := make([]anthMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleTool:
			msgs = append(msgs, anthMessage{Role: "user", Content: []contentBlock{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			}})
		case llm.RoleAssistant:
			blocks := make([]contentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Parameters})
			}
			msgs = append(msgs, anthMessage{Role: "assistant", Content: blocks})
		default:
			msgs = append(msgs, anthMessage{Role: "user", Content: []contentBlock{{Type: "text", Text: m.Content}}})
		}
	}

	tools := make([]anthTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, anthTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	return anthRequest{
		Model: model, MaxTokens: c.maxTokens, Messages: msgs, Tools: tools, System: req.System, Stream: true,
	}
}

func (c *Client) pump(ctx context.Context, body io.ReadCloser, out chan<- llm.Event) {
	defer close(out)
	defer body.Close()

	var (
		currentID, currentName string
		currentInput           strings.Builder
		eventType              string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			send(ctx, out, llm.Event{Kind: llm.EventError, Err: ctx.Err()})
			return
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch eventType {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentID = event.ContentBlock.ID
				currentName = event.ContentBlock.Name
				currentInput.Reset()
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					if !send(ctx, out, llm.Event{Kind: llm.EventTextToken, Text: event.Delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				currentInput.WriteString(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			if currentID != "" {
				var input map[string]any
				if s := currentInput.String(); s != "" {
					_ = json.Unmarshal([]byte(s), &input)
				}
				call := model.ToolCall{ID: currentID, Name: currentName, Parameters: input}
				if !send(ctx, out, llm.Event{Kind: llm.EventToolCall, ToolCall: call}) {
					return
				}
				currentID, currentName = "", ""
				currentInput.Reset()
			}
		case "message_stop":
			send(ctx, out, llm.Event{Kind: llm.EventDone})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, out, llm.Event{Kind: llm.EventError, Err: err})
		return
	}
	send(ctx, out, llm.Event{Kind: llm.EventDone})
}

func send(ctx context.Context, out chan<- llm.Event, ev llm.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package runtime is the client for the hosted agent runtime: the
// only component that makes outbound calls on the invocation path.
// Runtime failures are dispatch errors with HTTP-level semantics,
// never policy blocks.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAgentNotFound indicates the runtime knows no agent under the
// requested slug.
var ErrAgentNotFound = errors.New("agent not found")

// Usage is the canonical token accounting shape. Provider responses
// are normalized into it at the dispatcher boundary; absent usage
// yields zeros.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is a completed generation.
type Result struct {
	Text  string
	Usage Usage
	RunID string
}

// Dispatcher resolves and executes agents via the hosted runtime.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*Result, error)
}

// Request describes one invocation of a target agent.
type Request struct {
	AgentSlug      string
	OrgSlug        string
	Skill          string
	Message        string
	ConversationID string
}

// HTTPDispatcher talks to the agent runtime over HTTP.
type HTTPDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the runtime at baseURL.
// The timeout bounds the full round trip so a hung runtime cannot
// hang the gateway request indefinitely.
func NewHTTPDispatcher(baseURL, token string, timeout time.Duration) *HTTPDispatcher {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDispatcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Message        string `json:"message"`
	Skill          string `json:"skill,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	OrgSlug        string `json:"org_slug,omitempty"`
}

// rawUsage accepts the usage field shapes the runtime emits depending
// on the underlying model provider. Exactly one pair is populated per
// response; missing usage decodes to all zeros.
type rawUsage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	InputTokensSC    int `json:"input_tokens"`
	OutputTokensSC   int `json:"output_tokens"`
	PromptTokensSC   int `json:"prompt_tokens"`
	CompletionSC     int `json:"completion_tokens"`
}

// normalize folds the provider variants into the canonical shape.
func (u rawUsage) normalize() Usage {
	in := u.InputTokens
	if in == 0 {
		in = u.PromptTokens
	}
	if in == 0 {
		in = u.InputTokensSC
	}
	if in == 0 {
		in = u.PromptTokensSC
	}

	out := u.OutputTokens
	if out == 0 {
		out = u.CompletionTokens
	}
	if out == 0 {
		out = u.OutputTokensSC
	}
	if out == 0 {
		out = u.CompletionSC
	}

	return Usage{InputTokens: in, OutputTokens: out}
}

type generateResponse struct {
	Text     string   `json:"text"`
	Response string   `json:"response"` // older runtime versions
	RunID    string   `json:"run_id"`
	Usage    rawUsage `json:"usage"`
	Error    string   `json:"error"`
}

// Dispatch executes the target agent and returns its generated text
// with normalized usage.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(generateRequest{
		Message:        req.Message,
		Skill:          req.Skill,
		ConversationID: req.ConversationID,
		OrgSlug:        req.OrgSlug,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/agents/%s/generate", d.baseURL, req.AgentSlug)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runtime unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("runtime response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentSlug)
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("runtime returned malformed response (status %d)", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gen.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("runtime error: %s", msg)
	}

	text := gen.Text
	if text == "" {
		text = gen.Response
	}

	return &Result{
		Text:  text,
		Usage: gen.Usage.normalize(),
		RunID: gen.RunID,
	}, nil
}

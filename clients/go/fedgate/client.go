// Package fedgate provides a client for the federation invocation
// gateway.
package fedgate

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Client is a federation gateway API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	OrgID      string
	OrgSlug    string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Config holds organization credentials.
type Config struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	PublicKey string `json:"public_key"`
}

// NewClient creates a new federation gateway client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("FEDGATE_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".fedgate")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads organization credentials from disk.
func (c *Client) LoadConfig() error {
	configFile := filepath.Join(c.ConfigDir, "org.json")
	keyFile := filepath.Join(c.ConfigDir, "private.key")

	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}

	privBytes, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}

	c.OrgID = config.ID
	c.OrgSlug = config.Slug
	c.PrivateKey = ed25519.NewKeyFromSeed(privBytes)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)

	return nil
}

// SaveConfig saves organization credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		ID:        c.OrgID,
		Slug:      c.OrgSlug,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "org.json"), data, 0600); err != nil {
		return err
	}

	seed := c.PrivateKey.Seed()
	keyData := base64.StdEncoding.EncodeToString(seed)
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(body []byte) http.Header {
	hash := sha256.Sum256(body)
	hashHex := hex.EncodeToString(hash[:])

	nonceBytes := make([]byte, 12) // 24 hex chars for adequate entropy
	rand.Read(nonceBytes)
	nonce := hex.EncodeToString(nonceBytes)

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := fmt.Sprintf("%s|%s|%s", hashHex, nonce, timestamp)
	sig := ed25519.Sign(c.PrivateKey, []byte(payload))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Fed-Org", c.OrgID)
	headers.Set("X-Fed-Nonce", nonce)
	headers.Set("X-Fed-Timestamp", timestamp)
	headers.Set("X-Fed-Signature", base64.StdEncoding.EncodeToString(sig))
	return headers
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte, signed bool) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if signed {
		req.Header = c.signRequest(body)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("fedgate error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// RegisterRequest is the request body for organization registration.
type RegisterRequest struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// RegisterResponse is the response from organization registration.
type RegisterResponse struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	ProfileURL string `json:"profile_url"`
}

// Register registers a new organization, generating a keypair and
// persisting credentials on success.
func (c *Client) Register(slug, name string) (*RegisterResponse, error) {
	if err := c.GenerateKeypair(); err != nil {
		return nil, err
	}

	req := RegisterRequest{
		Slug:      slug,
		Name:      name,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/orgs", body, false)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.OrgID = resp.ID
	c.OrgSlug = resp.Slug
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}

	return &resp, nil
}

// OrgProfile represents an organization's public profile.
type OrgProfile struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key"`
	JoinedAt  string `json:"joined_at"`
}

// GetOrg gets an organization's public profile.
func (c *Client) GetOrg(slug string) (*OrgProfile, error) {
	respBody, err := c.doRequest("GET", "/orgs/"+url.PathEscape(slug), nil, false)
	if err != nil {
		return nil, err
	}

	var resp OrgProfile
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Agreement represents a federation agreement.
type Agreement struct {
	ID            string   `json:"id"`
	InitiatorSlug string   `json:"initiator_slug"`
	ResponderSlug string   `json:"responder_slug"`
	Status        string   `json:"status"`
	AllowedSkills []string `json:"allowed_skills"`
	RateLimit     int      `json:"rate_limit"`
	CostLimitUSD  float64  `json:"cost_limit_usd"`
	CreatedAt     string   `json:"created_at"`
	ActivatedAt   string   `json:"activated_at,omitempty"`
}

// CreateAgreementRequest is the request body for proposing an agreement.
type CreateAgreementRequest struct {
	ResponderSlug string   `json:"responder_slug"`
	AllowedSkills []string `json:"allowed_skills"`
	RateLimit     int      `json:"rate_limit"`
	CostLimitUSD  float64  `json:"cost_limit_usd"`
}

// ProposeAgreement proposes a federation agreement to another
// organization.
func (c *Client) ProposeAgreement(req CreateAgreementRequest) (*Agreement, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/agreements", body, true)
	if err != nil {
		return nil, err
	}

	var resp Agreement
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgreementList is the response from listing agreements.
type AgreementList struct {
	Agreements []Agreement `json:"agreements"`
	Total      int         `json:"total"`
}

// ListAgreements lists agreements the organization is party to.
func (c *Client) ListAgreements() (*AgreementList, error) {
	respBody, err := c.doRequest("GET", "/agreements", nil, true)
	if err != nil {
		return nil, err
	}

	var resp AgreementList
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// transitionAgreement posts to a lifecycle action endpoint.
func (c *Client) transitionAgreement(id, action string) (*Agreement, error) {
	respBody, err := c.doRequest("POST", "/agreements/"+id+"/"+action, nil, true)
	if err != nil {
		return nil, err
	}

	var resp Agreement
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcceptAgreement accepts a proposed agreement. Only the responder
// may accept.
func (c *Client) AcceptAgreement(id string) (*Agreement, error) {
	return c.transitionAgreement(id, "accept")
}

// SuspendAgreement suspends an active agreement.
func (c *Client) SuspendAgreement(id string) (*Agreement, error) {
	return c.transitionAgreement(id, "suspend")
}

// ResumeAgreement resumes a suspended agreement.
func (c *Client) ResumeAgreement(id string) (*Agreement, error) {
	return c.transitionAgreement(id, "resume")
}

// RevokeAgreement permanently revokes an agreement.
func (c *Client) RevokeAgreement(id string) (*Agreement, error) {
	return c.transitionAgreement(id, "revoke")
}

// ExposureRequest is the request body for exposing an agent.
type ExposureRequest struct {
	AgentSlug string   `json:"agent_slug"`
	Skills    []string `json:"skills"`
}

// Exposure represents an exposed agent.
type Exposure struct {
	ID        string   `json:"id"`
	AgentSlug string   `json:"agent_slug"`
	Skills    []string `json:"skills"`
	Active    bool     `json:"active"`
}

// ExposeAgent makes an agent discoverable and invocable by federation
// partners.
func (c *Client) ExposeAgent(req ExposureRequest) (*Exposure, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/exposures", body, true)
	if err != nil {
		return nil, err
	}

	var resp Exposure
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CapabilityCard is the public discovery record for an exposed agent.
type CapabilityCard struct {
	OrgSlug   string   `json:"org_slug"`
	OrgName   string   `json:"org_name"`
	AgentSlug string   `json:"agent_slug"`
	Skills    []string `json:"skills"`
	InvokeURL string   `json:"invoke_url"`
}

// Discover fetches the capability card for a partner's exposed agent.
func (c *Client) Discover(orgSlug, agentSlug string) (*CapabilityCard, error) {
	respBody, err := c.doRequest("GET", "/discover/"+url.PathEscape(orgSlug)+"/"+url.PathEscape(agentSlug), nil, false)
	if err != nil {
		return nil, err
	}

	var resp CapabilityCard
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InvokeRequest is the request body for a cross-org invocation.
type InvokeRequest struct {
	AgreementID     string `json:"agreement_id"`
	TargetAgentSlug string `json:"target_agent_slug"`
	Skill           string `json:"skill"`
	SourceAgentSlug string `json:"source_agent_slug,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Message         string `json:"message"`
	ContentType     string `json:"content_type,omitempty"`
}

// InvokeResponse is the response from an invocation.
type InvokeResponse struct {
	Success        bool    `json:"success"`
	Response       string  `json:"response,omitempty"`
	Error          string  `json:"error,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	PolicyResult   string  `json:"policy_result,omitempty"`
	InputTokens    int     `json:"input_tokens,omitempty"`
	OutputTokens   int     `json:"output_tokens,omitempty"`
	CostUSD        float64 `json:"cost_usd,omitempty"`
	LatencyMS      int64   `json:"latency_ms,omitempty"`
}

// Invoke invokes a partner agent under an agreement. A policy denial
// is returned as an error carrying the block reason.
func (c *Client) Invoke(req InvokeRequest) (*InvokeResponse, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/invoke", body, true)
	if err != nil {
		return nil, err
	}

	var resp InvokeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ThreadSummary represents a conversation aggregate.
type ThreadSummary struct {
	ConversationID string  `json:"conversation_id"`
	AgreementID    string  `json:"agreement_id"`
	MessageCount   int     `json:"message_count"`
	FirstMessageAt string  `json:"first_message_at"`
	LastMessageAt  string  `json:"last_message_at"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// ThreadList is the response from listing conversations.
type ThreadList struct {
	Conversations []ThreadSummary `json:"conversations"`
	Total         int             `json:"total"`
}

// ListConversations lists conversation threads for an agreement.
func (c *Client) ListConversations(agreementID string, limit, offset int) (*ThreadList, error) {
	path := fmt.Sprintf("/conversations?agreement_id=%s&limit=%d&offset=%d", url.QueryEscape(agreementID), limit, offset)
	respBody, err := c.doRequest("GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var resp ThreadList
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscriptMessage is a decrypted ledger row.
type TranscriptMessage struct {
	ID            string  `json:"id"`
	Direction     string  `json:"direction"`
	SourceOrgSlug string  `json:"source_org_slug"`
	TargetOrgSlug string  `json:"target_org_slug"`
	ContentType   string  `json:"content_type"`
	Body          string  `json:"body,omitempty"`
	Decrypted     bool    `json:"decrypted"`
	PolicyResult  string  `json:"policy_result"`
	PolicyReason  string  `json:"policy_reason,omitempty"`
	CostUSD       float64 `json:"cost_usd"`
	CreatedAt     string  `json:"created_at"`
}

// Transcript is the response from fetching a conversation.
type Transcript struct {
	ConversationID string              `json:"conversation_id"`
	AgreementID    string              `json:"agreement_id"`
	Messages       []TranscriptMessage `json:"messages"`
}

// GetConversation fetches a conversation transcript.
func (c *Client) GetConversation(conversationID string) (*Transcript, error) {
	respBody, err := c.doRequest("GET", "/conversations/"+url.PathEscape(conversationID), nil, true)
	if err != nil {
		return nil, err
	}

	var resp Transcript
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks gateway health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil, false)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

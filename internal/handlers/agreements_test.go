package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

func decodeAgreement(t *testing.T, body []byte) AgreementResponse {
	t.Helper()
	var resp AgreementResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad agreement body: %v: %s", err, body)
	}
	return resp
}

func TestAgreementLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// acme proposes to globex
	rec := env.do(t, env.acme, http.MethodPost, "/agreements", CreateAgreementRequest{
		ResponderSlug: "globex",
		AllowedSkills: []string{"summarize"},
		RateLimit:     50,
		CostLimitUSD:  2.5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	proposed := decodeAgreement(t, rec.Body.Bytes())
	if proposed.Status != "proposed" {
		t.Fatalf("new agreement should be proposed, got %s", proposed.Status)
	}
	if proposed.InitiatorSlug != "acme" || proposed.ResponderSlug != "globex" {
		t.Fatalf("wrong parties: %s / %s", proposed.InitiatorSlug, proposed.ResponderSlug)
	}

	// the initiator cannot accept its own proposal
	rec = env.do(t, env.acme, http.MethodPost, "/agreements/"+proposed.ID+"/accept", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("initiator accept: expected 403, got %d", rec.Code)
	}

	// the responder accepts, which activates and establishes a channel
	rec = env.do(t, env.globex, http.MethodPost, "/agreements/"+proposed.ID+"/accept", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	active := decodeAgreement(t, rec.Body.Bytes())
	if active.Status != "active" {
		t.Fatalf("expected active, got %s", active.Status)
	}
	if active.ActivatedAt == "" {
		t.Fatal("activation timestamp missing")
	}

	agrID := uuid.MustParse(proposed.ID)
	if env.db.keys[agrID] == nil {
		t.Fatal("acceptance must establish a channel key")
	}

	// double accept conflicts
	rec = env.do(t, env.globex, http.MethodPost, "/agreements/"+proposed.ID+"/accept", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double accept: expected 409, got %d", rec.Code)
	}

	// suspend and resume
	rec = env.do(t, env.acme, http.MethodPost, "/agreements/"+proposed.ID+"/suspend", nil)
	if rec.Code != http.StatusOK || decodeAgreement(t, rec.Body.Bytes()).Status != "suspended" {
		t.Fatalf("suspend failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, env.acme, http.MethodPost, "/agreements/"+proposed.ID+"/suspend", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double suspend: expected 409, got %d", rec.Code)
	}
	rec = env.do(t, env.globex, http.MethodPost, "/agreements/"+proposed.ID+"/resume", nil)
	if rec.Code != http.StatusOK || decodeAgreement(t, rec.Body.Bytes()).Status != "active" {
		t.Fatalf("resume failed: %d %s", rec.Code, rec.Body.String())
	}

	// revoke is terminal and drops the channel key
	rec = env.do(t, env.acme, http.MethodPost, "/agreements/"+proposed.ID+"/revoke", nil)
	if rec.Code != http.StatusOK || decodeAgreement(t, rec.Body.Bytes()).Status != "revoked" {
		t.Fatalf("revoke failed: %d %s", rec.Code, rec.Body.String())
	}
	if env.db.keys[agrID] != nil {
		t.Fatal("revocation must delete the channel key")
	}
	rec = env.do(t, env.globex, http.MethodPost, "/agreements/"+proposed.ID+"/resume", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resume after revoke: expected 409, got %d", rec.Code)
	}
}

func TestProposeToSelfRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.acme, http.MethodPost, "/agreements", CreateAgreementRequest{
		ResponderSlug: "acme",
		AllowedSkills: []string{"summarize"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestProposeToUnknownOrg(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.acme, http.MethodPost, "/agreements", CreateAgreementRequest{
		ResponderSlug: "nonexistent",
		AllowedSkills: []string{"summarize"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAgreementHiddenFromThirdParties(t *testing.T) {
	env := newTestEnv(t)
	outsider, _ := env.db.CreateOrganization(context.Background(), "initech", "Initech", "pk-initech")

	rec := env.do(t, outsider, http.MethodGet, "/agreements/"+env.agreement.ID.String(), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(t, env.acme, http.MethodGet, "/agreements/"+env.agreement.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("party lookup: expected 200, got %d", rec.Code)
	}
}

func TestRotateChannelKey(t *testing.T) {
	env := newTestEnv(t)
	before := append([]byte(nil), env.db.keys[env.agreement.ID]...)

	rec := env.do(t, env.acme, http.MethodPost, "/agreements/"+env.agreement.ID.String()+"/rotate-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	after := env.db.keys[env.agreement.ID]
	if after == nil || string(after) == string(before) {
		t.Fatal("rotation must install a new key")
	}

	// rotation only applies to active agreements
	env.agreement.Status = models.AgreementSuspended
	rec = env.do(t, env.acme, http.MethodPost, "/agreements/"+env.agreement.ID.String()+"/rotate-key", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRotationMakesOldMessagesUnreadable(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.invoke(t, env.acme, InvokeRequest{
		AgreementID:     env.agreement.ID.String(),
		TargetAgentSlug: "helper",
		Skill:           "echo",
		Message:         "before rotation",
	})

	rec := env.do(t, env.acme, http.MethodPost, "/agreements/"+env.agreement.ID.String()+"/rotate-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: %d", rec.Code)
	}

	rec = env.do(t, env.acme, http.MethodGet, "/conversations/"+resp.ConversationID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript after rotation must still be listable, got %d", rec.Code)
	}

	var transcript struct {
		Messages []struct {
			Body      string `json:"body"`
			Decrypted bool   `json:"decrypted"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &transcript); err != nil {
		t.Fatal(err)
	}
	if len(transcript.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript.Messages))
	}
	for _, m := range transcript.Messages {
		if m.Decrypted {
			t.Fatal("pre-rotation messages must come back decrypted=false")
		}
		if m.Body != "" {
			t.Fatal("unreadable messages must carry no body")
		}
	}
}

func TestListAgreements(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, env.acme, http.MethodGet, "/agreements", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listing AgreementListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Total != 1 || len(listing.Agreements) != 1 {
		t.Fatalf("expected the fixture agreement, got total=%d", listing.Total)
	}

	// a stranger sees nothing
	outsider, _ := env.db.CreateOrganization(context.Background(), "initech", "Initech", "pk-initech")
	rec = env.do(t, outsider, http.MethodGet, "/agreements", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Total != 0 {
		t.Fatalf("outsider should see no agreements, got %d", listing.Total)
	}
}

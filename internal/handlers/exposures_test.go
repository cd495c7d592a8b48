package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestExposureLifecycleAndDiscovery(t *testing.T) {
	env := newTestEnv(t)

	// globex exposes a second agent
	rec := env.do(t, env.globex, http.MethodPost, "/exposures", CreateExposureRequest{
		AgentSlug: "researcher",
		Skills:    []string{"search", "summarize"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var exposure ExposureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &exposure); err != nil {
		t.Fatal(err)
	}
	if !exposure.Active {
		t.Fatal("new exposure should be active")
	}

	// the agent is now publicly discoverable
	rec = env.do(t, nil, http.MethodGet, "/discover/globex/researcher", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discover: expected 200, got %d", rec.Code)
	}
	var card struct {
		OrgSlug   string   `json:"org_slug"`
		AgentSlug string   `json:"agent_slug"`
		Skills    []string `json:"skills"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	if card.OrgSlug != "globex" || card.AgentSlug != "researcher" || len(card.Skills) != 2 {
		t.Fatalf("unexpected card: %+v", card)
	}

	// only the owner may disable
	rec = env.do(t, env.acme, http.MethodDelete, "/exposures/"+exposure.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign disable: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, env.globex, http.MethodDelete, "/exposures/"+exposure.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", rec.Code)
	}

	// a disabled exposure is indistinguishable from a missing one
	rec = env.do(t, nil, http.MethodGet, "/discover/globex/researcher", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled discover: expected 404, got %d", rec.Code)
	}

	// re-exposing re-enables with the new skill list
	rec = env.do(t, env.globex, http.MethodPost, "/exposures", CreateExposureRequest{
		AgentSlug: "researcher",
		Skills:    []string{"search"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-expose: expected 201, got %d", rec.Code)
	}
	rec = env.do(t, nil, http.MethodGet, "/discover/globex/researcher", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("re-expose discover: expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	if len(card.Skills) != 1 || card.Skills[0] != "search" {
		t.Fatalf("expected updated skills, got %v", card.Skills)
	}
}

func TestDiscoverUnknownTargets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, nil, http.MethodGet, "/discover/nonexistent/helper", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown org: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, nil, http.MethodGet, "/discover/globex/phantom", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: expected 404, got %d", rec.Code)
	}
}

func TestInvokeAfterExposureDisabled(t *testing.T) {
	env := newTestEnv(t)

	// find and disable the fixture exposure
	exp, err := env.db.GetExposure(context.Background(), env.globex.ID, "helper")
	if err != nil || exp == nil {
		t.Fatal("fixture exposure missing")
	}
	rec := env.do(t, env.globex, http.MethodDelete, "/exposures/"+exp.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: %d", rec.Code)
	}

	rec, resp := env.invoke(t, env.acme, InvokeRequest{
		AgreementID:     env.agreement.ID.String(),
		TargetAgentSlug: "helper",
		Skill:           "echo",
		Message:         "ping",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after withdrawal, got %d", rec.Code)
	}
	if resp.PolicyResult != "blocked" {
		t.Fatalf("expected policy block, got %+v", resp)
	}
	if env.dispatcher.calls != 0 {
		t.Fatal("withdrawn agent must not be dispatched")
	}
}

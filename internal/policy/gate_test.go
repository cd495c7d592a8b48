package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

type fakeExposures struct {
	exposures map[string]*models.Exposure // keyed by orgID/agentSlug
}

func (f *fakeExposures) GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error) {
	return f.exposures[orgID.String()+"/"+agentSlug], nil
}

type fakeLimiter struct {
	count int64
	cost  float64
	decrs int
}

func (f *fakeLimiter) IncrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) (int64, error) {
	f.count++
	return f.count, nil
}

func (f *fakeLimiter) DecrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) error {
	f.count--
	f.decrs++
	return nil
}

func (f *fakeLimiter) GetWindowCost(ctx context.Context, agreementID uuid.UUID, window time.Duration) (float64, error) {
	return f.cost, nil
}

type fixture struct {
	gate      *Gate
	agreement *models.Agreement
	caller    uuid.UUID
	target    uuid.UUID
	limiter   *fakeLimiter
	exposures *fakeExposures
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	caller := uuid.New()
	target := uuid.New()

	agr := &models.Agreement{
		ID:             uuid.New(),
		InitiatorOrgID: caller,
		ResponderOrgID: target,
		Status:         models.AgreementActive,
		AllowedSkills:  []string{"summarize", "translate"},
		RateLimit:      5,
		CostLimitUSD:   1.0,
	}

	exposures := &fakeExposures{exposures: map[string]*models.Exposure{
		target.String() + "/helper": {
			ID:        uuid.New(),
			OrgID:     target,
			AgentSlug: "helper",
			Skills:    []string{"summarize", "translate", "classify"},
			Active:    true,
		},
	}}

	limiter := &fakeLimiter{}

	return &fixture{
		gate:      NewGate(exposures, limiter, opts),
		agreement: agr,
		caller:    caller,
		target:    target,
		limiter:   limiter,
		exposures: exposures,
	}
}

func (f *fixture) evaluate(t *testing.T, skill string) Decision {
	t.Helper()
	d, err := f.gate.Evaluate(context.Background(), f.agreement, f.caller, f.target, "helper", skill)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestAllowedInvocation(t *testing.T) {
	f := newFixture(t, Options{})

	d := f.evaluate(t, "summarize")
	if !d.Allowed {
		t.Fatalf("expected allowed, blocked with: %s", d.Reason)
	}
	if d.Reason != "" {
		t.Fatalf("allowed decision should carry no reason, got %q", d.Reason)
	}
	if f.limiter.count != 1 {
		t.Fatalf("expected rate counter 1, got %d", f.limiter.count)
	}
}

func TestInactiveAgreementBlocked(t *testing.T) {
	for _, status := range []models.AgreementStatus{
		models.AgreementProposed,
		models.AgreementSuspended,
		models.AgreementRevoked,
	} {
		f := newFixture(t, Options{})
		f.agreement.Status = status

		d := f.evaluate(t, "summarize")
		if d.Allowed {
			t.Fatalf("status %s: expected block", status)
		}
		if !strings.Contains(d.Reason, string(status)) {
			t.Fatalf("reason should name the status, got %q", d.Reason)
		}
		if f.limiter.count != 0 {
			t.Fatalf("blocked attempt should not consume rate budget, counter=%d", f.limiter.count)
		}
	}
}

func TestNonPartyCallerBlocked(t *testing.T) {
	f := newFixture(t, Options{})

	d, err := f.gate.Evaluate(context.Background(), f.agreement, uuid.New(), f.target, "helper", "summarize")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("expected block for non-party caller")
	}
}

func TestWrongCounterpartBlocked(t *testing.T) {
	f := newFixture(t, Options{})

	d, err := f.gate.Evaluate(context.Background(), f.agreement, f.caller, uuid.New(), "helper", "summarize")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("expected block for non-counterpart target")
	}
	if !strings.Contains(d.Reason, "counterpart") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestUnexposedAgentBlocked(t *testing.T) {
	f := newFixture(t, Options{})

	d, err := f.gate.Evaluate(context.Background(), f.agreement, f.caller, f.target, "ghost", "summarize")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("expected block for unexposed agent")
	}
	if !strings.Contains(d.Reason, "ghost") {
		t.Fatalf("reason should name the agent, got %q", d.Reason)
	}
}

func TestInactiveExposureBlocked(t *testing.T) {
	f := newFixture(t, Options{})
	f.exposures.exposures[f.target.String()+"/helper"].Active = false

	d := f.evaluate(t, "summarize")
	if d.Allowed {
		t.Fatal("expected block for disabled exposure")
	}
}

func TestSkillNotExposedBlocked(t *testing.T) {
	f := newFixture(t, Options{})
	f.agreement.AllowedSkills = []string{"negotiate"}

	d := f.evaluate(t, "negotiate")
	if d.Allowed {
		t.Fatal("expected block for skill the agent does not expose")
	}
	if !strings.Contains(d.Reason, "negotiate") {
		t.Fatalf("reason should name the skill, got %q", d.Reason)
	}
}

func TestSkillOutsideAgreementScopeBlocked(t *testing.T) {
	f := newFixture(t, Options{})

	// exposed by the agent but not granted by the agreement
	d := f.evaluate(t, "classify")
	if d.Allowed {
		t.Fatal("expected block for out-of-scope skill")
	}
	if !strings.Contains(d.Reason, "classify") || !strings.Contains(d.Reason, "scope") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestRateLimitBlocks(t *testing.T) {
	f := newFixture(t, Options{})
	f.agreement.RateLimit = 3

	for i := 0; i < 3; i++ {
		if d := f.evaluate(t, "summarize"); !d.Allowed {
			t.Fatalf("attempt %d should be allowed: %s", i+1, d.Reason)
		}
	}

	d := f.evaluate(t, "summarize")
	if d.Allowed {
		t.Fatal("expected rate limit block")
	}
	if !strings.Contains(d.Reason, "rate limit") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	// over-limit attempt was rolled back, counter stays at the cap
	if f.limiter.count != 3 {
		t.Fatalf("expected counter 3 after rollback, got %d", f.limiter.count)
	}
	if f.limiter.decrs != 1 {
		t.Fatalf("expected 1 rollback, got %d", f.limiter.decrs)
	}
}

func TestCountBlockedConsumesBudget(t *testing.T) {
	f := newFixture(t, Options{CountBlocked: true})
	f.agreement.Status = models.AgreementSuspended

	d := f.evaluate(t, "summarize")
	if d.Allowed {
		t.Fatal("expected block")
	}
	if f.limiter.count != 1 {
		t.Fatalf("CountBlocked should consume budget, counter=%d", f.limiter.count)
	}
}

func TestCountBlockedRateCheckRunsFirst(t *testing.T) {
	f := newFixture(t, Options{CountBlocked: true})
	f.agreement.RateLimit = 1
	f.agreement.Status = models.AgreementSuspended

	// first attempt blocks on status but consumes budget
	f.evaluate(t, "summarize")

	// second attempt hits the rate limit before the status check
	d := f.evaluate(t, "summarize")
	if !strings.Contains(d.Reason, "rate limit") {
		t.Fatalf("expected rate limit reason, got %q", d.Reason)
	}
}

func TestCostLimitBlocks(t *testing.T) {
	f := newFixture(t, Options{})
	f.agreement.CostLimitUSD = 0.50
	f.limiter.cost = 0.50

	d := f.evaluate(t, "summarize")
	if d.Allowed {
		t.Fatal("expected cost limit block")
	}
	if !strings.Contains(d.Reason, "cost limit") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	// cost block must not consume rate budget in default mode
	if f.limiter.count != 0 {
		t.Fatalf("expected counter 0, got %d", f.limiter.count)
	}
}

func TestZeroLimitsUnlimited(t *testing.T) {
	f := newFixture(t, Options{})
	f.agreement.RateLimit = 0
	f.agreement.CostLimitUSD = 0
	f.limiter.cost = 9999

	for i := 0; i < 10; i++ {
		if d := f.evaluate(t, "summarize"); !d.Allowed {
			t.Fatalf("expected allowed with zero limits: %s", d.Reason)
		}
	}
	if f.limiter.count != 0 {
		t.Fatal("zero rate limit should not touch the counter")
	}
}

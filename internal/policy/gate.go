// Package policy implements the federation policy gate: the
// synchronous allowed/blocked decision evaluated before any call
// reaches the agent runtime. Every decision, including blocks, is
// persisted to the message ledger by the caller.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// Decision is the outcome of a policy evaluation. Reason is set only
// on block and is persisted verbatim so the denial is auditable.
type Decision struct {
	Allowed bool
	Reason  string
}

var allowed = Decision{Allowed: true}

func blocked(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// ExposureStore resolves agent exposures.
type ExposureStore interface {
	GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error)
}

// Limiter tracks per-agreement rate and cost windows.
type Limiter interface {
	IncrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) (int64, error)
	DecrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) error
	GetWindowCost(ctx context.Context, agreementID uuid.UUID, window time.Duration) (float64, error)
}

// Options configure gate behavior.
type Options struct {
	// CountBlocked makes blocked attempts consume rate budget. The
	// default leaves budget for attempts that actually dispatch.
	CountBlocked bool

	RateWindow time.Duration
	CostWindow time.Duration
}

// Gate evaluates invocation attempts against an agreement.
type Gate struct {
	exposures ExposureStore
	limits    Limiter
	opts      Options
}

// NewGate creates a policy gate.
func NewGate(exposures ExposureStore, limits Limiter, opts Options) *Gate {
	if opts.RateWindow == 0 {
		opts.RateWindow = time.Hour
	}
	if opts.CostWindow == 0 {
		opts.CostWindow = 24 * time.Hour
	}
	return &Gate{exposures: exposures, limits: limits, opts: opts}
}

// Evaluate decides whether callerOrg may invoke targetAgent's skill
// in targetOrg under the agreement. A returned error is an
// infrastructure failure, not a block; the caller maps it to a
// server error rather than a policy denial.
//
// Rate enforcement is increment-and-compare on a window counter:
// best-effort under concurrent bursts, since nothing spans the
// evaluate-dispatch-log sequence transactionally.
func (g *Gate) Evaluate(ctx context.Context, agr *models.Agreement, callerOrgID, targetOrgID uuid.UUID, targetAgent, skill string) (Decision, error) {
	rateCounted := false
	if g.opts.CountBlocked && agr.RateLimit > 0 {
		count, err := g.limits.IncrInvocationCount(ctx, agr.ID, g.opts.RateWindow)
		if err != nil {
			return Decision{}, err
		}
		rateCounted = true
		if count > int64(agr.RateLimit) {
			return blocked("rate limit exceeded (%d per window)", agr.RateLimit), nil
		}
	}

	if agr.Status != models.AgreementActive {
		return blocked("agreement not active (status: %s)", agr.Status), nil
	}

	if !agr.IsParty(callerOrgID) {
		return blocked("caller is not a party to the agreement"), nil
	}

	if targetOrgID != agr.OtherParty(callerOrgID) {
		return blocked("target organization is not the agreement counterpart"), nil
	}

	exposure, err := g.exposures.GetExposure(ctx, targetOrgID, targetAgent)
	if err != nil {
		return Decision{}, err
	}
	if exposure == nil || !exposure.Active {
		return blocked("agent %q is not exposed for federation", targetAgent), nil
	}
	if !exposure.Exposes(skill) {
		return blocked("skill %q not exposed by agent %q", skill, targetAgent), nil
	}

	if !agr.SkillAllowed(skill) {
		return blocked("skill %q outside agreement scope", skill), nil
	}

	if agr.CostLimitUSD > 0 {
		cost, err := g.limits.GetWindowCost(ctx, agr.ID, g.opts.CostWindow)
		if err != nil {
			return Decision{}, err
		}
		if cost >= agr.CostLimitUSD {
			return blocked("cost limit exceeded (%.4f USD of %.4f USD)", cost, agr.CostLimitUSD), nil
		}
	}

	if agr.RateLimit > 0 && !rateCounted {
		count, err := g.limits.IncrInvocationCount(ctx, agr.ID, g.opts.RateWindow)
		if err != nil {
			return Decision{}, err
		}
		if count > int64(agr.RateLimit) {
			// Keep the counter an accurate count of dispatched
			// attempts when blocked calls don't consume budget.
			_ = g.limits.DecrInvocationCount(ctx, agr.ID, g.opts.RateWindow)
			return blocked("rate limit exceeded (%d per window)", agr.RateLimit), nil
		}
	}

	return allowed, nil
}

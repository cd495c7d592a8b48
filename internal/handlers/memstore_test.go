package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// memStore is an in-memory DataStore for handler tests.
type memStore struct {
	orgs       map[uuid.UUID]*models.Organization
	agreements map[uuid.UUID]*models.Agreement
	keys       map[uuid.UUID][]byte
	exposures  map[uuid.UUID]*models.Exposure
	messages   []models.Message
}

func newMemStore() *memStore {
	return &memStore{
		orgs:       make(map[uuid.UUID]*models.Organization),
		agreements: make(map[uuid.UUID]*models.Agreement),
		keys:       make(map[uuid.UUID][]byte),
		exposures:  make(map[uuid.UUID]*models.Exposure),
	}
}

func (s *memStore) Close()                         {}
func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) CreateOrganization(ctx context.Context, slug, name, publicKey string) (*models.Organization, error) {
	org := &models.Organization{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      name,
		PublicKey: publicKey,
		CreatedAt: time.Now(),
	}
	s.orgs[org.ID] = org
	return org, nil
}

func (s *memStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return s.orgs[id], nil
}

func (s *memStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	for _, org := range s.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetOrganizationByPublicKey(ctx context.Context, publicKey string) (*models.Organization, error) {
	for _, org := range s.orgs {
		if org.PublicKey == publicKey {
			return org, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateAgreement(ctx context.Context, initiatorID, responderID uuid.UUID, allowedSkills []string, rateLimit int, costLimitUSD float64) (*models.Agreement, error) {
	agr := &models.Agreement{
		ID:             uuid.New(),
		InitiatorOrgID: initiatorID,
		ResponderOrgID: responderID,
		Status:         models.AgreementProposed,
		AllowedSkills:  allowedSkills,
		RateLimit:      rateLimit,
		CostLimitUSD:   costLimitUSD,
		CreatedAt:      time.Now(),
	}
	if init := s.orgs[initiatorID]; init != nil {
		agr.InitiatorSlug = init.Slug
	}
	if resp := s.orgs[responderID]; resp != nil {
		agr.ResponderSlug = resp.Slug
	}
	s.agreements[agr.ID] = agr
	return agr, nil
}

func (s *memStore) GetAgreement(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	return s.agreements[id], nil
}

func (s *memStore) ListAgreementsForOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.Agreement, int, error) {
	var out []models.Agreement
	for _, agr := range s.agreements {
		if agr.IsParty(orgID) {
			out = append(out, *agr)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memStore) UpdateAgreementStatus(ctx context.Context, id uuid.UUID, status models.AgreementStatus, activatedAt *time.Time) error {
	if agr := s.agreements[id]; agr != nil {
		agr.Status = status
		if activatedAt != nil {
			agr.ActivatedAt = activatedAt
		}
	}
	return nil
}

func (s *memStore) SetChannelKey(ctx context.Context, agreementID uuid.UUID, key []byte) error {
	s.keys[agreementID] = key
	return nil
}

func (s *memStore) GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error) {
	return s.keys[agreementID], nil
}

func (s *memStore) DeleteChannelKey(ctx context.Context, agreementID uuid.UUID) error {
	delete(s.keys, agreementID)
	return nil
}

func (s *memStore) CreateExposure(ctx context.Context, orgID uuid.UUID, agentSlug string, skills []string) (*models.Exposure, error) {
	for _, exp := range s.exposures {
		if exp.OrgID == orgID && exp.AgentSlug == agentSlug {
			exp.Skills = skills
			exp.Active = true
			return exp, nil
		}
	}
	exp := &models.Exposure{
		ID:        uuid.New(),
		OrgID:     orgID,
		AgentSlug: agentSlug,
		Skills:    skills,
		Active:    true,
		CreatedAt: time.Now(),
	}
	s.exposures[exp.ID] = exp
	return exp, nil
}

func (s *memStore) GetExposureByID(ctx context.Context, id uuid.UUID) (*models.Exposure, error) {
	return s.exposures[id], nil
}

func (s *memStore) GetExposure(ctx context.Context, orgID uuid.UUID, agentSlug string) (*models.Exposure, error) {
	for _, exp := range s.exposures {
		if exp.OrgID == orgID && exp.AgentSlug == agentSlug {
			return exp, nil
		}
	}
	return nil, nil
}

func (s *memStore) DisableExposure(ctx context.Context, id uuid.UUID) error {
	if exp := s.exposures[id]; exp != nil {
		exp.Active = false
	}
	return nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memStore) ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *memStore) GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error) {
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			return msg.AgreementID, nil
		}
	}
	return uuid.Nil, nil
}

func (s *memStore) ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error) {
	byConv := make(map[uuid.UUID]*models.ThreadSummary)
	for _, msg := range s.messages {
		if msg.AgreementID != agreementID {
			continue
		}
		sum := byConv[msg.ConversationID]
		if sum == nil {
			sum = &models.ThreadSummary{
				ConversationID: msg.ConversationID,
				AgreementID:    agreementID,
				FirstMessageAt: msg.CreatedAt,
				LastMessageAt:  msg.CreatedAt,
			}
			byConv[msg.ConversationID] = sum
		}
		sum.MessageCount++
		sum.TotalCostUSD += msg.CostUSD
		if msg.CreatedAt.Before(sum.FirstMessageAt) {
			sum.FirstMessageAt = msg.CreatedAt
		}
		if msg.CreatedAt.After(sum.LastMessageAt) {
			sum.LastMessageAt = msg.CreatedAt
		}
	}

	var out []models.ThreadSummary
	for _, sum := range byConv {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})

	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

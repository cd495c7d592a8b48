package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Appello-Prototypes/fedgate/internal/channel"
	"github.com/Appello-Prototypes/fedgate/internal/models"
)

type fakeStore struct {
	rows []models.Message
	keys map[uuid.UUID][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[uuid.UUID][]byte)}
}

func (s *fakeStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.rows = append(s.rows, *msg)
	return nil
}

func (s *fakeStore) ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var out []models.Message
	for _, row := range s.rows {
		if row.ConversationID == conversationID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error) {
	for _, row := range s.rows {
		if row.ConversationID == conversationID {
			return row.AgreementID, nil
		}
	}
	return uuid.Nil, nil
}

func (s *fakeStore) ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) GetChannelKey(ctx context.Context, agreementID uuid.UUID) ([]byte, error) {
	return s.keys[agreementID], nil
}

func newTestLedger(t *testing.T) (*Ledger, *fakeStore, uuid.UUID) {
	t.Helper()
	store := newFakeStore()
	agreementID := uuid.New()
	key, err := channel.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	store.keys[agreementID] = key
	return New(store, channel.NewResolver(store)), store, agreementID
}

func TestRecordSealsBody(t *testing.T) {
	led, store, agreementID := newTestLedger(t)

	msg := &models.Message{
		AgreementID:    agreementID,
		ConversationID: uuid.New(),
		Direction:      models.DirectionOutbound,
		SourceOrgSlug:  "acme",
		TargetOrgSlug:  "globex",
		Body:           "the plaintext",
		PolicyResult:   models.PolicyAllowed,
	}
	if err := led.Record(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store.rows))
	}
	stored := store.rows[0]
	if stored.ID == "" {
		t.Fatal("expected generated message ID")
	}
	if stored.ContentType != "text/plain" {
		t.Fatalf("expected default content type, got %q", stored.ContentType)
	}
	if !strings.HasPrefix(stored.Body, "v1:") {
		t.Fatalf("stored body should be a sealed envelope, got %q", stored.Body)
	}
	if strings.Contains(stored.Body, "the plaintext") {
		t.Fatal("plaintext leaked into storage")
	}
}

func TestRecordWithoutChannelKey(t *testing.T) {
	led, store, _ := newTestLedger(t)

	// an agreement with no established channel
	msg := &models.Message{
		AgreementID:    uuid.New(),
		ConversationID: uuid.New(),
		Direction:      models.DirectionOutbound,
		Body:           "keyless write",
		PolicyResult:   models.PolicyBlocked,
		PolicyReason:   "agreement not active (status: proposed)",
	}
	if err := led.Record(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(store.rows[0].Body, "v0:") {
		t.Fatalf("expected v0 envelope, got %q", store.rows[0].Body)
	}
}

func TestRecordPreservesProvidedIDs(t *testing.T) {
	led, store, agreementID := newTestLedger(t)

	msg := &models.Message{
		ID:             "01JX0000000000000000000000",
		AgreementID:    agreementID,
		ConversationID: uuid.New(),
		Direction:      models.DirectionInbound,
		ContentType:    "application/json",
		Body:           "{}",
		PolicyResult:   models.PolicyAllowed,
	}
	if err := led.Record(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if store.rows[0].ID != "01JX0000000000000000000000" {
		t.Fatal("provided ID should be kept")
	}
	if store.rows[0].ContentType != "application/json" {
		t.Fatal("provided content type should be kept")
	}
}

func TestTranscriptDecryptsBothDirections(t *testing.T) {
	led, _, agreementID := newTestLedger(t)
	conversationID := uuid.New()

	request := &models.Message{
		AgreementID:    agreementID,
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		SourceOrgSlug:  "acme",
		TargetOrgSlug:  "globex",
		Body:           "ping",
		PolicyResult:   models.PolicyAllowed,
	}
	response := &models.Message{
		AgreementID:    agreementID,
		ConversationID: conversationID,
		Direction:      models.DirectionInbound,
		SourceOrgSlug:  "globex",
		TargetOrgSlug:  "acme",
		Body:           "pong",
		PolicyResult:   models.PolicyAllowed,
	}
	if err := led.Record(context.Background(), request); err != nil {
		t.Fatal(err)
	}
	if err := led.Record(context.Background(), response); err != nil {
		t.Fatal(err)
	}

	transcript, err := led.Transcript(context.Background(), conversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript))
	}

	if !transcript[0].Decrypted || transcript[0].PlainBody != "ping" {
		t.Fatalf("request row: %+v", transcript[0])
	}
	if !transcript[1].Decrypted || transcript[1].PlainBody != "pong" {
		t.Fatalf("response row: %+v", transcript[1])
	}
	for _, m := range transcript {
		if m.Body != "" {
			t.Fatal("raw envelope must not be exposed in transcripts")
		}
	}
}

func TestTranscriptUnreadableRowsDegrade(t *testing.T) {
	store := newFakeStore()
	agreementID := uuid.New()
	conversationID := uuid.New()

	oldKey, _ := channel.NewKey()
	store.keys[agreementID] = oldKey

	led := New(store, channel.NewResolver(store))
	if err := led.Record(context.Background(), &models.Message{
		AgreementID:    agreementID,
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Body:           "pre-rotation",
		PolicyResult:   models.PolicyAllowed,
	}); err != nil {
		t.Fatal(err)
	}

	// rotate the channel key so the stored envelope becomes unreadable
	newKey, _ := channel.NewKey()
	store.keys[agreementID] = newKey

	fresh := New(store, channel.NewResolver(store))
	transcript, err := fresh.Transcript(context.Background(), conversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(transcript) != 1 {
		t.Fatalf("expected 1 message, got %d", len(transcript))
	}
	if transcript[0].Decrypted {
		t.Fatal("expected decrypted=false after rotation")
	}
	if transcript[0].PlainBody != "" {
		t.Fatal("unreadable row must carry no body")
	}
}

func TestTranscriptEmptyConversation(t *testing.T) {
	led, _, _ := newTestLedger(t)

	transcript, err := led.Transcript(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if transcript != nil {
		t.Fatal("expected nil transcript for unknown conversation")
	}
}

func TestConversationAgreement(t *testing.T) {
	led, _, agreementID := newTestLedger(t)
	conversationID := uuid.New()

	if err := led.Record(context.Background(), &models.Message{
		AgreementID:    agreementID,
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Body:           "hello",
		PolicyResult:   models.PolicyAllowed,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := led.ConversationAgreement(context.Background(), conversationID)
	if err != nil {
		t.Fatal(err)
	}
	if got != agreementID {
		t.Fatal("wrong agreement for conversation")
	}

	got, err = led.ConversationAgreement(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if got != uuid.Nil {
		t.Fatal("expected uuid.Nil for unknown conversation")
	}
}

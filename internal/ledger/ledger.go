// Package ledger is the append-only record of federation invocation
// attempts. Bodies are sealed with the agreement's channel key before
// they reach storage; corrections are new rows, never updates.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/Appello-Prototypes/fedgate/internal/channel"
	"github.com/Appello-Prototypes/fedgate/internal/models"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	GetConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error)
	ListThreads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error)
}

// Ledger seals and appends invocation records and reads them back as
// transcripts.
type Ledger struct {
	store Store
	keys  *channel.Resolver
}

// New creates a ledger over the given store and key resolver.
func New(store Store, keys *channel.Resolver) *Ledger {
	return &Ledger{store: store, keys: keys}
}

// Record seals the message body with the agreement's channel key and
// appends the row. The plaintext Body on msg is replaced by the
// envelope before storage; a missing channel key stores an unsealed
// v0 envelope rather than failing the write.
func (l *Ledger) Record(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.ContentType == "" {
		msg.ContentType = "text/plain"
	}

	key, err := l.keys.Resolve(ctx, msg.AgreementID)
	if err != nil {
		return err
	}

	envelope, err := channel.Seal(key, msg.Body)
	if err != nil {
		return err
	}
	msg.Body = envelope

	return l.store.AppendMessage(ctx, msg)
}

// TranscriptMessage is a ledger row read back for callers. Body holds
// plaintext only when Decrypted is true.
type TranscriptMessage struct {
	models.Message
	PlainBody string `json:"body,omitempty"`
	Decrypted bool   `json:"decrypted"`
}

// Transcript returns a conversation's messages in creation order,
// decrypting each body with the current channel key. Messages the key
// cannot open (no channel, rotated key, v0 envelope) are returned
// with Decrypted false rather than erroring, so one unreadable row
// never blocks an audit read.
func (l *Ledger) Transcript(ctx context.Context, conversationID uuid.UUID) ([]TranscriptMessage, error) {
	rows, err := l.store.ListConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	key, err := l.keys.Resolve(ctx, rows[0].AgreementID)
	if err != nil {
		return nil, err
	}

	transcript := make([]TranscriptMessage, len(rows))
	for i, row := range rows {
		plain, ok := channel.Open(key, row.Body)
		row.Body = ""
		transcript[i] = TranscriptMessage{
			Message:   row,
			PlainBody: plain,
			Decrypted: ok,
		}
	}

	return transcript, nil
}

// ConversationAgreement reports which agreement owns a conversation,
// or uuid.Nil for an unknown conversation.
func (l *Ledger) ConversationAgreement(ctx context.Context, conversationID uuid.UUID) (uuid.UUID, error) {
	return l.store.GetConversationAgreement(ctx, conversationID)
}

// Threads returns per-conversation aggregates for an agreement,
// newest activity first. Content is never decrypted for listing.
func (l *Ledger) Threads(ctx context.Context, agreementID uuid.UUID, limit, offset int) ([]models.ThreadSummary, int, error) {
	return l.store.ListThreads(ctx, agreementID, limit, offset)
}

// Package transfer records permitted transaction transfers so spending
// policies can evaluate historical activity, and publishes a tracking event
// for downstream consumers.
package transfer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sigil/internal/authz/models"
	id "sigil/pkg/domain"
)

// Topic is the Kafka topic transfer events are published on.
const Topic = "sigil.transfers"

// Transfer is one permitted outgoing transaction.
type Transfer struct {
	ID        uuid.UUID    `json:"id"`
	OrgID     id.OrgID     `json:"orgId"`
	RequestID id.RequestID `json:"requestId"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Value     string       `json:"value"`
	ChainID   int64        `json:"chainId"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Store persists transfers.
type Store interface {
	Record(ctx context.Context, t Transfer) error
	ListByOrgSince(ctx context.Context, orgID id.OrgID, since time.Time) ([]Transfer, error)
}

// Publisher is the event sink; satisfied by the platform Kafka producer.
type Publisher interface {
	PublishAsync(ctx context.Context, topic string, key string, value []byte)
}

// Tracker records the transfer side effect of a permitted transaction.
// Tracking is best-effort relative to the committed decision: a tracking
// failure is logged and reported to the caller's goroutine, but the caller
// never rolls back the decision because of it.
type Tracker struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithPublisher enables Kafka event publication.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records the transfer described by a permitted sign-transaction
// request. Requests for other actions are ignored.
func (t *Tracker) Track(ctx context.Context, req *models.AuthorizationRequest) error {
	action, ok := req.Action.(models.SignTransaction)
	if !ok {
		return nil
	}

	record := Transfer{
		ID:        uuid.New(),
		OrgID:     req.OrgID,
		RequestID: req.ID,
		From:      action.TransactionRequest.From,
		To:        action.TransactionRequest.To,
		Value:     action.TransactionRequest.Value,
		ChainID:   action.TransactionRequest.ChainID,
		CreatedAt: time.Now(),
	}
	if err := t.store.Record(ctx, record); err != nil {
		return err
	}

	if t.publisher != nil {
		payload, err := json.Marshal(record)
		if err != nil {
			t.logger.ErrorContext(ctx, "marshal transfer event", "error", err)
			return nil
		}
		t.publisher.PublishAsync(ctx, Topic, record.RequestID.String(), payload)
	}
	return nil
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sigil/internal/authz/models"
	"sigil/internal/transfer"
)

const SourceHistoricalTransfers = "historicalTransfers"

// HistoricalTransferSource attaches the organization's recent transfer
// history so spending-limit policies can evaluate accumulated outflows.
type HistoricalTransferSource struct {
	transfers transfer.Store
	window    time.Duration
	signer    *Signer
}

func NewHistoricalTransferSource(store transfer.Store, window time.Duration, signer *Signer) *HistoricalTransferSource {
	return &HistoricalTransferSource{transfers: store, window: window, signer: signer}
}

func (s *HistoricalTransferSource) Name() string { return SourceHistoricalTransfers }

func (s *HistoricalTransferSource) Gather(ctx context.Context, req *models.AuthorizationRequest) (Feed, error) {
	since := time.Now().Add(-s.window)
	history, err := s.transfers.ListByOrgSince(ctx, req.OrgID, since)
	if err != nil {
		return Feed{}, fmt.Errorf("list historical transfers: %w", err)
	}
	if history == nil {
		history = []transfer.Transfer{}
	}

	payload := struct {
		RequestID string              `json:"requestId"`
		Since     time.Time           `json:"since"`
		Transfers []transfer.Transfer `json:"transfers"`
	}{RequestID: req.ID.String(), Since: since, Transfers: history}

	data, err := json.Marshal(payload)
	if err != nil {
		return Feed{}, fmt.Errorf("marshal transfer history payload: %w", err)
	}
	return s.signer.Sign(SourceHistoricalTransfers, data)
}

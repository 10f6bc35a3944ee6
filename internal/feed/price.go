package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sigil/internal/authz/models"
)

const SourcePrices = "prices"

// PriceClient fetches current asset prices. Mock implementations use
// deterministic data and a configurable latency to mimic real-world calls.
type PriceClient interface {
	Prices(ctx context.Context, chainID int64) (map[string]string, error)
}

// PriceSource attaches a signed price snapshot to evaluations of
// sign-transaction requests. Sign-message requests get an empty snapshot;
// message policies never condition on prices.
type PriceSource struct {
	client PriceClient
	signer *Signer
}

func NewPriceSource(client PriceClient, signer *Signer) *PriceSource {
	return &PriceSource{client: client, signer: signer}
}

func (s *PriceSource) Name() string { return SourcePrices }

func (s *PriceSource) Gather(ctx context.Context, req *models.AuthorizationRequest) (Feed, error) {
	payload := struct {
		RequestID string            `json:"requestId"`
		Prices    map[string]string `json:"prices"`
	}{RequestID: req.ID.String(), Prices: map[string]string{}}

	if tx, ok := req.Action.(models.SignTransaction); ok {
		prices, err := s.client.Prices(ctx, tx.TransactionRequest.ChainID)
		if err != nil {
			return Feed{}, fmt.Errorf("fetch prices: %w", err)
		}
		payload.Prices = prices
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Feed{}, fmt.Errorf("marshal price payload: %w", err)
	}
	return s.signer.Sign(SourcePrices, data)
}

// HTTPPriceClient fetches prices from a price oracle endpoint.
type HTTPPriceClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPriceClient(baseURL string, timeout time.Duration) *HTTPPriceClient {
	return &HTTPPriceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPPriceClient) Prices(ctx context.Context, chainID int64) (map[string]string, error) {
	url := fmt.Sprintf("%s/prices?chainId=%d", c.baseURL, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price oracle returned status %d", res.StatusCode)
	}
	var prices map[string]string
	if err := json.NewDecoder(res.Body).Decode(&prices); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	return prices, nil
}

// MockPriceClient returns deterministic prices after a configurable latency.
type MockPriceClient struct {
	Latency time.Duration
}

func (c MockPriceClient) Prices(ctx context.Context, chainID int64) (map[string]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.Latency):
	}
	return map[string]string{
		fmt.Sprintf("eip155:%d/slip44:60", chainID): "2500.00",
	}, nil
}

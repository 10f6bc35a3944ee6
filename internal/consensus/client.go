package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"sigil/internal/cluster"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/platform/circuit"
)

// HTTPNodeClient calls a policy node's evaluation endpoint over HTTP. A
// per-node circuit breaker skips calls to nodes that keep failing; while a
// breaker is open, one trial call per probe interval is still let through so
// a recovered node can close its breaker again. An open breaker reports the
// node as unavailable, which the evaluator treats the same as an unreachable
// node.
type HTTPNodeClient struct {
	httpClient *http.Client
	probeAfter time.Duration

	mu       sync.Mutex
	breakers map[string]*nodeBreaker
}

// nodeBreaker pairs a node's breaker with the earliest time an open breaker
// admits a trial call. Guarded by the client's mutex.
type nodeBreaker struct {
	br        *circuit.Breaker
	nextProbe time.Time
}

// ClientOption configures the HTTPNodeClient.
type ClientOption func(*HTTPNodeClient)

// WithProbeInterval sets how long an open breaker waits before admitting the
// next trial call.
func WithProbeInterval(d time.Duration) ClientOption {
	return func(c *HTTPNodeClient) {
		if d > 0 {
			c.probeAfter = d
		}
	}
}

// NewHTTPNodeClient constructs a client. A nil httpClient gets a default with
// a conservative timeout; per-call deadlines still come from the context.
func NewHTTPNodeClient(httpClient *http.Client, opts ...ClientOption) *HTTPNodeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &HTTPNodeClient{
		httpClient: httpClient,
		probeAfter: 15 * time.Second,
		breakers:   make(map[string]*nodeBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// admit decides whether a call to the node may proceed. An open breaker
// admits one trial call per probe interval; its outcome feeds the breaker
// like any other call.
func (c *HTTPNodeClient) admit(key string) (*circuit.Breaker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.breakers[key]
	if !ok {
		e = &nodeBreaker{br: circuit.New(key, circuit.WithFailureThreshold(3))}
		c.breakers[key] = e
	}
	if e.br.IsOpen() {
		now := time.Now()
		if now.Before(e.nextProbe) {
			return e.br, false
		}
		e.nextProbe = now.Add(c.probeAfter)
	}
	return e.br, true
}

func (c *HTTPNodeClient) recordFailure(key string, br *circuit.Breaker) {
	if _, change := br.RecordFailure(); change.Opened {
		c.mu.Lock()
		c.breakers[key].nextProbe = time.Now().Add(c.probeAfter)
		c.mu.Unlock()
	}
}

// Evaluate posts the evaluation payload to the node and decodes its verdict.
func (c *HTTPNodeClient) Evaluate(ctx context.Context, node cluster.Node, data EvaluationData) (*EvaluationResponse, error) {
	key := node.ID.String()
	br, ok := c.admit(key)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnavailable,
			"policy node %s circuit open", node.ID)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode evaluation payload")
	}

	url := node.URL() + "/evaluations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build evaluation request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(key, br)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "call policy node")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.recordFailure(key, br)
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, dErrors.Newf(dErrors.CodeUnavailable,
			"policy node %s returned %d: %s", node.ID, res.StatusCode, snippet)
	}

	var out EvaluationResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			fmt.Sprintf("decode response from node %s", node.ID))
	}
	br.RecordSuccess()
	return &out, nil
}

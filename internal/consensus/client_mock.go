package consensus

import (
	"context"
	"fmt"
	"time"

	"sigil/internal/cluster"
	id "sigil/pkg/domain"
)

// MockNodeClient returns scripted responses keyed by node ID. Used in unit
// tests and local development where no policy cluster is running.
type MockNodeClient struct {
	// Responses maps node IDs to the verdict each node returns.
	Responses map[id.NodeID]*EvaluationResponse
	// Errors maps node IDs to a forced failure.
	Errors map[id.NodeID]error
	// Latency is injected before each response to exercise timeouts.
	Latency time.Duration
}

// Evaluate returns the scripted response for the node, honoring context
// cancellation during the simulated latency.
func (m *MockNodeClient) Evaluate(ctx context.Context, node cluster.Node, _ EvaluationData) (*EvaluationResponse, error) {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := m.Errors[node.ID]; ok {
		return nil, err
	}
	if res, ok := m.Responses[node.ID]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("no scripted response for node %s", node.ID)
}

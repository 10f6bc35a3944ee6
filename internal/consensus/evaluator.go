// Package consensus obtains one authoritative decision for a request by
// querying every node of the organization's policy-engine cluster and
// accepting the result only when all nodes agree and every attestation is
// cryptographically valid.
//
// Unanimity (rather than majority) trades availability for the strongest
// correctness guarantee: a permit is never issued unless every redundant
// evaluator independently reached the same conclusion from the same inputs.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sigil/internal/authz/models"
	"sigil/internal/cluster"
	"sigil/internal/feed"
	id "sigil/pkg/domain"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/evmhash"
	"sigil/pkg/platform/sentinel"
)

// Failure classification. Cluster-not-found is a fatal configuration error;
// unreachable nodes, attestation failures and disagreement are surfaced so
// the queue's retry policy governs them.
var (
	ErrClusterNotFound    = errors.New("cluster not found for organization")
	ErrInvalidAttestation = errors.New("invalid node attestation")
	ErrConsensus          = errors.New("evaluation consensus not reached")
	ErrNodeUnreachable    = errors.New("policy node unreachable")
)

// EvaluationData is the identical payload broadcast to every cluster node.
type EvaluationData struct {
	Authentication models.Signature `json:"authentication"`
	Approvals      []models.Approval `json:"approvals"`
	Request        json.RawMessage  `json:"request"`
	Feeds          []feed.Feed      `json:"feeds"`
}

// EvaluationInput identifies the organization and carries the broadcast data.
type EvaluationInput struct {
	OrgID id.OrgID
	Data  EvaluationData
}

// EvaluationResponse is one node's verdict: a summary decision, the raw
// per-policy outcomes behind it, the attestation over the request hash, and
// an optional decoded transaction intent.
type EvaluationResponse struct {
	Decision          models.DecisionValue   `json:"decision"`
	Outcomes          []models.PolicyOutcome `json:"outcomes"`
	Attestation       models.Signature       `json:"attestation"`
	TransactionIntent json.RawMessage        `json:"transactionIntent,omitempty"`
}

// NodeClient performs one evaluation call against one node.
type NodeClient interface {
	Evaluate(ctx context.Context, node cluster.Node, data EvaluationData) (*EvaluationResponse, error)
}

// Evaluator fans an evaluation out to a cluster and enforces unanimity.
type Evaluator struct {
	clusters cluster.Store
	client   NodeClient
	verifier evmhash.Verifier
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithTimeout bounds each node call. A timed-out node counts as unreachable,
// which fails the evaluation closed.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(clusters cluster.Store, client NodeClient, verifier evmhash.Verifier, opts ...Option) *Evaluator {
	e := &Evaluator{
		clusters: clusters,
		client:   client,
		verifier: verifier,
		timeout:  15 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluation queries every node of the organization's cluster with the same
// payload and returns the first node's response once all nodes agree and all
// attestations verify.
func (e *Evaluator) Evaluation(ctx context.Context, input EvaluationInput) (*EvaluationResponse, error) {
	c, err := e.clusters.FindByOrg(ctx, input.OrgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(ErrClusterNotFound, dErrors.CodeNotFound, input.OrgID.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load cluster")
	}
	if len(c.Nodes) == 0 {
		return nil, dErrors.Wrap(ErrClusterNotFound, dErrors.CodeNotFound, "cluster has no nodes")
	}

	responses, err := e.broadcast(ctx, c, input.Data)
	if err != nil {
		return nil, err
	}

	// The payload hash is recomputed here, never trusted from a response.
	digest, err := evmhash.Sum(input.Data.Request)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash request payload")
	}
	for i, res := range responses {
		if err := e.verifier.Verify(digest, res.Attestation.Sig, res.Attestation.PubKey); err != nil {
			e.logger.ErrorContext(ctx, "node attestation rejected",
				"node_id", c.Nodes[i].ID,
				"error", err,
			)
			return nil, dErrors.Wrap(ErrInvalidAttestation, dErrors.CodeForbidden, c.Nodes[i].ID.String())
		}
	}

	// Agreement is strict equality of the decision field only; approval
	// bookkeeping and attestations legitimately differ between nodes.
	first := responses[0]
	for i, res := range responses[1:] {
		if res.Decision != first.Decision {
			e.logger.ErrorContext(ctx, "cluster disagreement",
				"cluster_id", c.ID,
				"first_decision", first.Decision,
				"divergent_node", c.Nodes[i+1].ID,
				"divergent_decision", res.Decision,
			)
			return nil, dErrors.Wrap(ErrConsensus, dErrors.CodeConflict,
				"nodes returned differing decisions")
		}
	}

	return first, nil
}

// broadcast sends the payload to every node concurrently and collects the
// responses in node order. Any failed or missing response fails the whole
// broadcast: an absent verdict can never be treated as agreement.
func (e *Evaluator) broadcast(ctx context.Context, c *cluster.Cluster, data EvaluationData) ([]*EvaluationResponse, error) {
	g, gctx := errgroup.WithContext(ctx)
	responses := make([]*EvaluationResponse, len(c.Nodes))

	for i, node := range c.Nodes {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			res, err := e.client.Evaluate(callCtx, node, data)
			if err != nil {
				e.logger.WarnContext(ctx, "node evaluation failed",
					"node_id", node.ID,
					"host", node.Host,
					"error", err,
				)
				return dErrors.Wrap(ErrNodeUnreachable, dErrors.CodeUnavailable, node.ID.String())
			}
			responses[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

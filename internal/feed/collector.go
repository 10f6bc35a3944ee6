// Package feed gathers the auxiliary signed data (prices, historical
// transfers) policies may condition on. Sources run in parallel under one
// timeout; each source signs its payload so policy-engine nodes can check
// feed provenance.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sigil/internal/authz/models"
)

// Feed is one signed data payload attached to an evaluation.
type Feed struct {
	Source string          `json:"source"`
	Sig    string          `json:"sig"`
	PubKey string          `json:"pubKey"`
	Data   json.RawMessage `json:"data"`
}

// Source produces one signed feed for a request. Implementations must
// respect ctx cancellation; the collector enforces the shared deadline.
type Source interface {
	Name() string
	Gather(ctx context.Context, req *models.AuthorizationRequest) (Feed, error)
}

// Collector fans out to every registered source and returns the feeds in
// source registration order.
type Collector struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures the Collector.
type Option func(*Collector)

// WithTimeout bounds the whole gathering pass.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) { c.timeout = d }
}

// WithLogger sets a logger for per-source diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// NewCollector builds a Collector over the given sources.
func NewCollector(sources []Source, opts ...Option) *Collector {
	c := &Collector{
		sources: sources,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Gather collects one feed per source, in registration order, with shared
// context cancellation. A failing source fails the whole pass: evaluating
// against partial data could flip a policy decision.
func (c *Collector) Gather(ctx context.Context, req *models.AuthorizationRequest) ([]Feed, error) {
	if len(c.sources) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	feeds := make([]Feed, len(c.sources))

	for i, source := range c.sources {
		g.Go(func() error {
			start := time.Now()
			f, err := source.Gather(ctx, req)
			if err != nil {
				c.logger.WarnContext(ctx, "feed source failed",
					"source", source.Name(),
					"request_id", req.ID,
					"error", err,
				)
				return err
			}
			c.logger.DebugContext(ctx, "feed gathered",
				"source", source.Name(),
				"request_id", req.ID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			feeds[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return feeds, nil
}

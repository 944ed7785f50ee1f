package rag

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// EmbeddingClient is the external embedding provider contract. The client is
// expected to retry transient failures internally; errors surfacing here have
// already exhausted that budget.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GatewayOptions tune adaptive batching and throttling.
type GatewayOptions struct {
	Dimension        int
	InitialBatchSize int
	MinBatchSize     int
	// BatchDelay is the base inter-batch wait; actual waits are jittered
	// 0.8x-1.2x and scaled by the current batch size.
	BatchDelay time.Duration
}

func (o *GatewayOptions) applyDefaults() {
	if o.Dimension <= 0 {
		o.Dimension = 1536
	}
	if o.InitialBatchSize <= 0 {
		o.InitialBatchSize = 10
	}
	if o.MinBatchSize <= 0 {
		o.MinBatchSize = 1
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = time.Second
	}
}

// EmbeddingGateway wraps the provider with adaptive batch sizing, inter-batch
// throttling, dimension normalization, and zero-vector degradation. Batch
// embedding never fails on an individual input: inputs whose batches exhaust
// the provider's retries are given zero vectors and the operation continues.
type EmbeddingGateway struct {
	client  EmbeddingClient
	opts    GatewayOptions
	metrics *Metrics

	mu            sync.Mutex
	batchSize     int
	successStreak int

	sleep func(ctx context.Context, d time.Duration) error
}

func NewEmbeddingGateway(client EmbeddingClient, opts GatewayOptions, metrics *Metrics) *EmbeddingGateway {
	opts.applyDefaults()
	return &EmbeddingGateway{
		client:    client,
		opts:      opts,
		metrics:   metrics,
		batchSize: opts.InitialBatchSize,
		sleep:     sleepCtx,
	}
}

func (g *EmbeddingGateway) Dimension() int { return g.opts.Dimension }

// ZeroVector is the degraded placeholder for inputs that could not be
// embedded.
func (g *EmbeddingGateway) ZeroVector() []float32 {
	return make([]float32, g.opts.Dimension)
}

// EmbedQuery embeds a single query text. Unlike batch ingestion, a query
// embedding failure is not degraded to a zero vector; the caller decides
// whether the failure is user-visible.
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return g.Normalize(vec), nil
}

// EmbedBatch embeds texts with adaptive batch sizing: the batch size halves
// after any batch-level failure (floor at MinBatchSize) and grows by one
// after three consecutive successes (ceiling at the initial size). Failed
// batches are re-queued at the smaller size, not dropped; only a failure at
// the floor degrades that batch's inputs to zero vectors. The call waits
// between batches to respect provider rate limits and checks ctx there, so a
// long ingestion can be cancelled cooperatively.
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	i := 0
	for i < len(texts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size := g.currentBatchSize()
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := g.client.EmbedBatch(ctx, texts[i:end])
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && size > g.opts.MinBatchSize:
			// Re-queue the same range at a smaller batch size.
			newSize := g.shrinkBatchSize()
			log.Printf("embedding gateway: batch of %d failed, retrying at %d: %v", size, newSize, err)
			continue
		case err != nil:
			// Retries exhausted at the floor: degrade, log, continue.
			log.Printf("embedding gateway: giving up on %d input(s), storing zero vectors: %v", end-i, err)
			for j := i; j < end; j++ {
				results[j] = g.ZeroVector()
			}
			if g.metrics != nil {
				g.metrics.RecordZeroVectors(end - i)
			}
			g.resetStreak()
			i = end
		default:
			for j, vec := range vectors {
				results[i+j] = g.Normalize(vec)
			}
			g.recordSuccess()
			i = end
		}

		if i < len(texts) {
			if err := g.sleep(ctx, g.throttleDelay()); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// Normalize forces a vector to exactly the configured dimension: truncating
// longer vectors and zero-padding shorter ones. Provider model versions drift
// in native dimension; the adjustment is deliberate, logged, and counted.
func (g *EmbeddingGateway) Normalize(vec []float32) []float32 {
	d := g.opts.Dimension
	if len(vec) == d {
		return vec
	}
	log.Printf("embedding gateway: adjusting vector dimension %d -> %d", len(vec), d)
	if g.metrics != nil {
		g.metrics.RecordDimensionAdjust()
	}
	out := make([]float32, d)
	copy(out, vec)
	return out
}

func (g *EmbeddingGateway) currentBatchSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batchSize
}

func (g *EmbeddingGateway) shrinkBatchSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successStreak = 0
	g.batchSize /= 2
	if g.batchSize < g.opts.MinBatchSize {
		g.batchSize = g.opts.MinBatchSize
	}
	return g.batchSize
}

func (g *EmbeddingGateway) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successStreak++
	if g.successStreak >= 3 && g.batchSize < g.opts.InitialBatchSize {
		g.batchSize++
		g.successStreak = 0
	}
}

func (g *EmbeddingGateway) resetStreak() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successStreak = 0
}

// throttleDelay is the jittered, size-scaled inter-batch wait. This is a
// blocking wait on the calling task only; other requests are unaffected.
func (g *EmbeddingGateway) throttleDelay() time.Duration {
	size := g.currentBatchSize()
	scale := float64(size) / float64(g.opts.InitialBatchSize)
	if scale < 0.2 {
		scale = 0.2
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(g.opts.BatchDelay) * jitter * scale)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

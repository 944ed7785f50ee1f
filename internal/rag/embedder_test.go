package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder answers with constant-dimension vectors and can be scripted to
// fail specific calls.
type fakeEmbedder struct {
	dimension  int
	calls      int
	batchSizes []int
	failCalls  map[int]error // 1-based call number -> error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if err := f.failCalls[f.calls]; err != nil {
		return nil, err
	}
	return make([]float32, f.dimension), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(texts))
	if err := f.failCalls[f.calls]; err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dimension)
	}
	return out, nil
}

func newTestGateway(client EmbeddingClient, opts GatewayOptions, metrics *Metrics) *EmbeddingGateway {
	g := NewEmbeddingGateway(client, opts, metrics)
	g.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return g
}

func TestNormalizeExactDimensionUntouched(t *testing.T) {
	g := newTestGateway(&fakeEmbedder{dimension: 4}, GatewayOptions{Dimension: 4}, nil)

	in := []float32{1, 2, 3, 4}
	assert.Equal(t, in, g.Normalize(in))
}

func TestNormalizeTruncatesLongVectors(t *testing.T) {
	metrics := NewMetrics()
	g := newTestGateway(&fakeEmbedder{dimension: 6}, GatewayOptions{Dimension: 4}, metrics)

	out := g.Normalize([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []float32{1, 2, 3, 4}, out)
	assert.Equal(t, int64(1), metrics.Snapshot().DimensionAdjusts)
}

func TestNormalizePadsShortVectors(t *testing.T) {
	metrics := NewMetrics()
	g := newTestGateway(&fakeEmbedder{dimension: 2}, GatewayOptions{Dimension: 4}, metrics)

	out := g.Normalize([]float32{1, 2})
	assert.Equal(t, []float32{1, 2, 0, 0}, out)
	assert.Equal(t, int64(1), metrics.Snapshot().DimensionAdjusts)
}

func TestEmbedBatchAllSucceed(t *testing.T) {
	client := &fakeEmbedder{dimension: 4}
	g := newTestGateway(client, GatewayOptions{Dimension: 4, InitialBatchSize: 3}, nil)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vectors, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
	assert.Equal(t, []int{3, 3, 1}, client.batchSizes)
}

func TestEmbedBatchShrinksAndRequeuesOnFailure(t *testing.T) {
	client := &fakeEmbedder{
		dimension: 4,
		failCalls: map[int]error{1: errors.New("rate limited")},
	}
	g := newTestGateway(client, GatewayOptions{Dimension: 4, InitialBatchSize: 4, MinBatchSize: 1}, nil)

	texts := []string{"a", "b", "c", "d"}
	vectors, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	// First attempt at 4 fails; the same range retries at 2, then continues.
	assert.Equal(t, []int{4, 2, 2}, client.batchSizes)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestEmbedBatchZeroVectorDegradationAtFloor(t *testing.T) {
	client := &fakeEmbedder{
		dimension: 4,
		failCalls: map[int]error{1: errors.New("boom")},
	}
	metrics := NewMetrics()
	g := newTestGateway(client, GatewayOptions{
		Dimension:        4,
		InitialBatchSize: 2,
		MinBatchSize:     2, // already at the floor, no shrink possible
	}, metrics)

	vectors, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)

	// First batch degraded to zero vectors, second batch embedded normally.
	assert.Equal(t, make([]float32, 4), vectors[0])
	assert.Equal(t, make([]float32, 4), vectors[1])
	assert.Equal(t, int64(2), metrics.Snapshot().ZeroVectorFallback)
}

func TestEmbedBatchGrowsAfterThreeSuccesses(t *testing.T) {
	client := &fakeEmbedder{
		dimension: 4,
		failCalls: map[int]error{1: errors.New("rate limited")},
	}
	g := newTestGateway(client, GatewayOptions{Dimension: 4, InitialBatchSize: 2, MinBatchSize: 1}, nil)

	// Failure drops the batch size to 1; three successes restore it to 2.
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	_, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1, 1, 1, 2, 2}, client.batchSizes)
}

func TestEmbedBatchCancelledBetweenBatches(t *testing.T) {
	client := &fakeEmbedder{dimension: 4}
	g := NewEmbeddingGateway(client, GatewayOptions{Dimension: 4, InitialBatchSize: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	g.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel() // cancel during the inter-batch wait
		return ctx.Err()
	}

	_, err := g.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.calls, "no further batches after cancellation")
}

func TestEmbedQueryDoesNotDegrade(t *testing.T) {
	client := &fakeEmbedder{
		dimension: 4,
		failCalls: map[int]error{1: errors.New("provider down")},
	}
	g := newTestGateway(client, GatewayOptions{Dimension: 4}, nil)

	_, err := g.EmbedQuery(context.Background(), "pertanyaan")
	assert.Error(t, err)
}

func TestThrottleDelayBounds(t *testing.T) {
	g := newTestGateway(&fakeEmbedder{dimension: 4}, GatewayOptions{
		Dimension:        4,
		InitialBatchSize: 10,
		BatchDelay:       time.Second,
	}, nil)

	for i := 0; i < 100; i++ {
		d := g.throttleDelay()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const testDim = 8

// hashVector is a deterministic, non-zero embedding of text.
func hashVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32(sum[i]) + 1
	}
	return v
}

type stubBackend struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newStubBackend() *stubBackend {
	return &stubBackend{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (b *stubBackend) Embed(_ context.Context, text string) ([]float32, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.calls[text]++
	fail := b.fail[text]
	b.mu.Unlock()

	if fail {
		return nil, models.Unavailable("stub", "embed", errors.New("connection reset"))
	}
	return hashVector(text), nil
}

func (b *stubBackend) callCount(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[text]
}

func newTestService(t *testing.T, b Backend, maxConcurrent int) *Service {
	t.Helper()
	s, err := NewService(b, NewMemoryCache(1000), Config{Dimension: testDim, MaxConcurrent: maxConcurrent}, logger.NewTestLogger())
	require.NoError(t, err)
	return s
}

func TestEmbedOneCachesResult(t *testing.T) {
	b := newStubBackend()
	s := newTestService(t, b, 4)

	v1, err := s.EmbedOne(context.Background(), "alpha")
	require.NoError(t, err)
	v2, err := s.EmbedOne(context.Background(), "alpha")
	require.NoError(t, err)

	assert.Equal(t, hashVector("alpha"), v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, b.callCount("alpha"))
	assert.EqualValues(t, 1, s.Stats().CacheHits)
}

func TestEmbedOnePropagatesFailure(t *testing.T) {
	b := newStubBackend()
	b.fail["bad"] = true
	s := newTestService(t, b, 4)

	_, err := s.EmbedOne(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestEmbedOneRejectsWrongDimension(t *testing.T) {
	s := newTestService(t, BackendFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}), 1)

	_, err := s.EmbedOne(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestEmbedManyPreservesOrderWithDuplicatesAndCacheHits(t *testing.T) {
	b := newStubBackend()
	s := newTestService(t, b, 4)
	ctx := context.Background()

	_, err := s.EmbedOne(ctx, "c")
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "a", "d", "c", "e", "b", "f"}
	out, err := s.EmbedMany(ctx, texts, Options{UseCache: true, BatchSize: 2, Concurrency: 3})
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, text := range texts {
		assert.Equal(t, hashVector(text), out[i], "index %d", i)
	}

	// duplicates and cached entries are not re-sent
	assert.Equal(t, 1, b.callCount("a"))
	assert.Equal(t, 1, b.callCount("c"))
}

func TestEmbedManyIsolatesFailures(t *testing.T) {
	b := newStubBackend()
	b.fail["t3"] = true
	s := newTestService(t, b, 4)

	texts := []string{"t0", "t1", "t2", "t3", "t4", "t5"}
	out, err := s.EmbedMany(context.Background(), texts, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, len(texts))

	for i, text := range texts {
		if i == 3 {
			assert.Len(t, out[i], testDim)
			assert.True(t, IsZero(out[i]))
			continue
		}
		assert.Equal(t, hashVector(text), out[i])
	}

	// failures are not cached
	_, ok := s.cache.Get("t3")
	assert.False(t, ok)
	assert.EqualValues(t, 1, s.Stats().Failures)
}

func TestEmbedManyWithoutCache(t *testing.T) {
	b := newStubBackend()
	s := newTestService(t, b, 4)
	ctx := context.Background()

	_, err := s.EmbedMany(ctx, []string{"x"}, Options{UseCache: false})
	require.NoError(t, err)
	_, err = s.EmbedMany(ctx, []string{"x"}, Options{UseCache: false})
	require.NoError(t, err)

	assert.Equal(t, 2, b.callCount("x"))
	assert.Zero(t, s.cache.Len())
}

func TestEmbedManyRespectsGate(t *testing.T) {
	b := newStubBackend()
	b.delay = 20 * time.Millisecond
	s := newTestService(t, b, 3)

	texts := make([]string, 30)
	for i := range texts {
		texts[i] = string(rune('A' + i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EmbedMany(context.Background(), texts, Options{UseCache: false, BatchSize: 10, Concurrency: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, b.peak.Load(), int32(3))
}

func TestEmbedManyProgress(t *testing.T) {
	b := newStubBackend()
	s := newTestService(t, b, 4)

	texts := []string{"a", "b", "c", "d", "e"}
	var calls [][2]int
	progress := func(done, total int) error {
		calls = append(calls, [2]int{done, total})
		if done == 2 {
			return errors.New("observer unavailable")
		}
		if done == 4 {
			panic("observer crashed")
		}
		return nil
	}

	out, err := s.EmbedMany(context.Background(), texts, Options{UseCache: true, BatchSize: 2, Progress: progress})
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, calls)

	// fully cached input still reports completion once
	calls = nil
	_, err = s.EmbedMany(context.Background(), texts, Options{UseCache: true, Progress: progress})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{5, 5}}, calls)
}

type batchStub struct {
	*stubBackend
	batchCalls atomic.Int32
	failBatch  bool
}

func (b *batchStub) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.batchCalls.Add(1)
	if b.failBatch {
		return nil, errors.New("batch endpoint down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func TestEmbedManyUsesBatchBackend(t *testing.T) {
	b := &batchStub{stubBackend: newStubBackend()}
	s := newTestService(t, b, 4)

	texts := []string{"a", "b", "c", "d", "e"}
	out, err := s.EmbedMany(context.Background(), texts, Options{UseCache: true, BatchSize: 2})
	require.NoError(t, err)
	for i, text := range texts {
		assert.Equal(t, hashVector(text), out[i])
	}
	// batches of 2, 2 and a single item embedded directly
	assert.EqualValues(t, 2, b.batchCalls.Load())
	assert.Equal(t, 1, b.callCount("e"))
}

func TestEmbedManyFallsBackWhenBatchFails(t *testing.T) {
	b := &batchStub{stubBackend: newStubBackend(), failBatch: true}
	s := newTestService(t, b, 4)

	out, err := s.EmbedMany(context.Background(), []string{"a", "b"}, Options{UseCache: true, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, hashVector("a"), out[0])
	assert.Equal(t, hashVector("b"), out[1])
}

func TestEmbedManyCancelled(t *testing.T) {
	s := newTestService(t, newStubBackend(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.EmbedMany(ctx, []string{"a"}, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, nil, Config{Dimension: 8}, logger.NewNop())
	assert.Error(t, err)
	_, err = NewService(newStubBackend(), nil, Config{}, logger.NewNop())
	assert.Error(t, err)
}

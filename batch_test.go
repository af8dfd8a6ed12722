package webdav_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webdav "github.com/Goopil/fast-dav-rs"
)

func TestRunBatchPreservesInputOrder(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}

	rng := rand.New(rand.NewSource(1))
	results := webdav.RunBatch(context.Background(), inputs, 8, func(ctx context.Context, i int) (int, error) {
		time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
		return i * 2, nil
	})

	require.Len(t, results, len(inputs))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i*2, r.Value)
	}
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	var active, maxActive int32
	inputs := make([]int, 20)

	webdav.RunBatch(context.Background(), inputs, 4, func(ctx context.Context, i int) (struct{}, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, int(maxActive), 4)
}

func TestRunBatchCollectsPerItemErrors(t *testing.T) {
	inputs := []int{1, 2, 3, 4}

	results := webdav.RunBatch(context.Background(), inputs, 0, func(ctx context.Context, i int) (int, error) {
		if i%2 == 0 {
			return 0, fmt.Errorf("item %d failed", i)
		}
		return i, nil
	})

	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Error(t, results[3].Err)
}

func TestRunBatchEmptyInput(t *testing.T) {
	results := webdav.RunBatch(context.Background(), []int{}, 4, func(ctx context.Context, i int) (int, error) {
		t.Fatal("fn should never be called for empty input")
		return 0, nil
	})
	assert.Empty(t, results)
}

package workqueue

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelizeUntil(t *testing.T) {
	const pieces = 1000
	var sum int64
	seen := make([]int32, pieces)

	ParallelizeUntil(context.Background(), 16, pieces, func(piece int) {
		atomic.AddInt32(&seen[piece], 1)
		atomic.AddInt64(&sum, int64(piece))
	})

	assert.Equal(t, int64(pieces*(pieces-1)/2), sum)
	for i, n := range seen {
		assert.Equal(t, int32(1), n, "piece %d", i)
	}
}

func TestParallelizeUntilPanicIsolated(t *testing.T) {
	var done int32
	ParallelizeUntil(context.Background(), 2, 10, func(piece int) {
		if piece == 3 {
			panic("boom")
		}
		atomic.AddInt32(&done, 1)
	})
	assert.Equal(t, int32(9), done)
}

func TestParallelizeUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var done int32
	ParallelizeUntil(ctx, 4, 100, func(piece int) {
		atomic.AddInt32(&done, 1)
	})
	assert.Equal(t, int32(0), done)
}

func TestParallelizeUntilEdgeCases(t *testing.T) {
	var done int32
	ParallelizeUntil(context.Background(), 0, 3, func(piece int) {
		atomic.AddInt32(&done, 1)
	})
	assert.Equal(t, int32(3), done)

	ParallelizeUntil(context.Background(), 4, 0, func(piece int) {
		t.Fatal("should not run")
	})
}

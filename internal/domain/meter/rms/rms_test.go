package rms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	assert.Equal(t, 0.0, Compute(nil))
	assert.Equal(t, 0.0, Compute(make([]float32, 2048)))

	// 方波幅度即 RMS
	square := make([]float32, 2048)
	for i := range square {
		if i%2 == 0 {
			square[i] = 0.05
		} else {
			square[i] = -0.05
		}
	}
	assert.InDelta(t, 0.05, Compute(square), 1e-6)

	// 正弦波 RMS = A / sqrt(2)
	sine := make([]float32, 1600)
	for i := range sine {
		sine[i] = float32(0.5 * math.Sin(2*math.Pi*float64(i)/160))
	}
	assert.InDelta(t, 0.5/math.Sqrt2, Compute(sine), 1e-3)
}

func TestMeter(t *testing.T) {
	m := New()
	window := []float32{0.1, -0.1, 0.1, -0.1}
	level, err := m.Level(window)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, level, 1e-6)
	assert.NoError(t, m.Reset())
	assert.NoError(t, m.Close())
}

func BenchmarkCompute(b *testing.B) {
	window := make([]float32, 2048)
	for i := range window {
		window[i] = float32(i%64) / 640
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Compute(window)
	}
}

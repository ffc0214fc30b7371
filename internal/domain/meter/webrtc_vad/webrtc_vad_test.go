package webrtc_vad

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"meeting-speaker-server-golang/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// voiceLike 基频加谐波的类语音信号
func voiceLike(n, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		v := 0.0
		for h := 1; h <= 8; h++ {
			v += math.Sin(2*math.Pi*150*float64(h)*t) / float64(h)
		}
		// 4Hz 音节包络
		env := 0.6 + 0.4*math.Sin(2*math.Pi*4*t)
		out[i] = float32(0.3 * env * v)
	}
	return out
}

func TestNewValidates(t *testing.T) {
	_, err := New(44100, 2)
	assert.Error(t, err)

	_, err = New(16000, 4)
	assert.Error(t, err)
}

func TestLevelSilenceAndVoice(t *testing.T) {
	m, err := New(16000, 0)
	require.NoError(t, err)
	defer m.Close()

	level, err := m.Level(make([]float32, 2048))
	require.NoError(t, err)
	assert.Equal(t, 0.0, level)

	// 先喂一段让内部平滑状态稳定
	voice := voiceLike(16000, 16000)
	for i := 0; i+2048 <= len(voice); i += 2048 {
		_, err = m.Level(voice[i : i+2048])
		require.NoError(t, err)
	}
	level, err = m.Level(voice[len(voice)-2048:])
	require.NoError(t, err)
	assert.Greater(t, level, 0.0)
	assert.LessOrEqual(t, level, 1.0)
}

func TestLevelShortWindow(t *testing.T) {
	m, err := New(16000, 2)
	require.NoError(t, err)
	defer m.Close()

	level, err := m.Level(make([]float32, 100))
	require.NoError(t, err)
	assert.Equal(t, 0.0, level)
}

func TestClosedMeter(t *testing.T) {
	m, err := New(16000, 2)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.False(t, m.IsValid())

	_, err = m.Level(make([]float32, 640))
	assert.ErrorIs(t, err, ErrMeterClosed)
	assert.ErrorIs(t, m.Reset(), ErrMeterClosed)
	assert.NoError(t, m.Close())
}

func TestPool(t *testing.T) {
	pool, err := NewPool(Config{SampleRate: 16000, Mode: 2}, &util.PoolConfig{
		MaxSize:        3,
		MinSize:        1,
		MaxIdle:        2,
		AcquireTimeout: time.Second,
	})
	require.NoError(t, err)
	defer pool.Close()

	m, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, m.IsValid())
	assert.Equal(t, 16000, m.SampleRate())
	assert.Equal(t, 2, m.Mode())

	require.NoError(t, pool.Release(m))
	stats := pool.Stats()
	assert.Equal(t, 1, stats["total_resources"])
	assert.Equal(t, 0, stats["in_use_resources"])
}

func TestPoolConcurrency(t *testing.T) {
	pool, err := NewPool(Config{}, &util.PoolConfig{
		MaxSize:        3,
		MinSize:        1,
		MaxIdle:        3,
		AcquireTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer pool.Close()

	window := voiceLike(2048, 16000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer pool.Release(m)
			for j := 0; j < 5; j++ {
				_, err := m.Level(window)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.Stats()["total_resources"].(int), 3)
}

func TestConfigFromMap(t *testing.T) {
	c := configFromMap(map[string]interface{}{"vad_mode": float64(1), "vad_sample_rate": 8000})
	assert.Equal(t, Config{SampleRate: 8000, Mode: 1}, c)

	assert.Nil(t, poolConfigFromMap(map[string]interface{}{}))
	pc := poolConfigFromMap(map[string]interface{}{"pool_max_size": 7})
	require.NotNil(t, pc)
	assert.Equal(t, 7, pc.MaxSize)
}

func TestAcquireKeepsPoolPerSampleRate(t *testing.T) {
	m8k, err := Acquire(8000, map[string]interface{}{"vad_mode": 1})
	require.NoError(t, err)
	m32k, err := Acquire(32000, map[string]interface{}{"vad_mode": 1})
	require.NoError(t, err)

	assert.Equal(t, 8000, m8k.SampleRate())
	assert.Equal(t, 32000, m32k.SampleRate())
	assert.Equal(t, 1, m32k.Mode())

	require.NoError(t, Release(m8k))
	require.NoError(t, Release(m32k))
	assert.True(t, m8k.IsValid(), "released into its own pool")

	// 非法模式按默认模式建池，归还时能找到对应的池
	m, err := Acquire(16000, map[string]interface{}{"vad_mode": 9})
	require.NoError(t, err)
	assert.Equal(t, DefaultMode, m.Mode())
	require.NoError(t, Release(m))
	assert.True(t, m.IsValid())
}

package webrtc_vad

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meeting-speaker-server-golang/internal/util"
)

// Config WebRTC VAD 配置
type Config struct {
	SampleRate int
	Mode       int
}

// factory 实现 util.Factory
type factory struct {
	config Config
}

func (f *factory) Create() (*Meter, error) {
	return New(f.config.SampleRate, f.config.Mode)
}

func (f *factory) Reset(m *Meter) error {
	return m.Reset()
}

// Pool WebRTC VAD 电平计资源池
type Pool struct {
	pool *util.Pool[*Meter]
}

// NewPool 创建资源池，poolConfig 为 nil 时使用适合 VAD 的默认值
func NewPool(config Config, poolConfig *util.PoolConfig) (*Pool, error) {
	if config.SampleRate == 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.Mode < 0 || config.Mode > 3 {
		config.Mode = DefaultMode
	}

	cfg := util.DefaultPoolConfig()
	cfg.MaxSize = 64
	cfg.MinSize = 1
	cfg.MaxIdle = 16
	cfg.IdleTimeout = 2 * time.Minute
	if poolConfig != nil {
		cfg = *poolConfig
	}

	pool, err := util.NewPool[*Meter](cfg, &factory{config: config})
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD pool: %w", err)
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Acquire(ctx context.Context) (*Meter, error) {
	return p.pool.Acquire(ctx)
}

func (p *Pool) Release(m *Meter) error {
	return p.pool.Release(m)
}

func (p *Pool) Close() error {
	return p.pool.Close()
}

func (p *Pool) Stats() map[string]interface{} {
	return p.pool.Stats()
}

var (
	poolsMu sync.Mutex
	pools   = make(map[Config]*Pool)
)

// Acquire 从全局池获取电平计，每种采样率和模式一个池，首次使用时按 config 建池
// sampleRate 为 0 时使用 config 中的 vad_sample_rate
func Acquire(sampleRate int, config map[string]interface{}) (*Meter, error) {
	c := configFromMap(config)
	if sampleRate > 0 {
		c.SampleRate = sampleRate
	}
	if c.Mode < 0 || c.Mode > 3 {
		c.Mode = DefaultMode
	}
	if !isValidSampleRate(c.SampleRate) {
		return nil, fmt.Errorf("WebRTC VAD does not support sample rate %d", c.SampleRate)
	}

	poolsMu.Lock()
	pool, ok := pools[c]
	if !ok {
		var err error
		pool, err = NewPool(c, poolConfigFromMap(config))
		if err != nil {
			poolsMu.Unlock()
			return nil, err
		}
		pools[c] = pool
	}
	poolsMu.Unlock()

	return pool.Acquire(context.Background())
}

// Release 归还到电平计所属的池
func Release(m *Meter) error {
	poolsMu.Lock()
	pool, ok := pools[Config{SampleRate: m.SampleRate(), Mode: m.Mode()}]
	poolsMu.Unlock()
	if !ok {
		return m.Close()
	}
	return pool.Release(m)
}

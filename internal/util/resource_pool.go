package util

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrPoolClosed      = errors.New("pool is closed")
	ErrNotPooled       = errors.New("resource not managed by this pool")
	ErrInvalidPoolSize = errors.New("invalid pool size")
)

// Resource 池化资源
type Resource interface {
	comparable
	// Close 关闭资源
	Close() error
	// IsValid 检查资源是否仍可用
	IsValid() bool
}

// Factory 创建并在复用前重置资源
type Factory[T Resource] interface {
	Create() (T, error)
	Reset(resource T) error
}

// PoolConfig 资源池配置
type PoolConfig struct {
	// MaxSize 最大资源数量
	MaxSize int
	// MinSize 预创建数量，空闲清理时保留
	MinSize int
	// MaxIdle 最大空闲数量
	MaxIdle int
	// AcquireTimeout 获取超时，0 表示只受 ctx 控制
	AcquireTimeout time.Duration
	// IdleTimeout 空闲超时，0 表示不清理
	IdleTimeout time.Duration
}

// DefaultPoolConfig 返回默认配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        10,
		MinSize:        1,
		MaxIdle:        5,
		AcquireTimeout: 3 * time.Second,
		IdleTimeout:    5 * time.Minute,
	}
}

type idleEntry[T Resource] struct {
	resource T
	since    time.Time
}

// Pool 通用资源池
type Pool[T Resource] struct {
	cfg     PoolConfig
	factory Factory[T]

	idle chan idleEntry[T]

	mu     sync.Mutex
	inUse  map[T]struct{}
	total  int
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	cleanupWg sync.WaitGroup
}

// NewPool 创建资源池并预创建 MinSize 个资源
func NewPool[T Resource](cfg PoolConfig, factory Factory[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.New("factory cannot be nil")
	}
	if cfg.MaxSize <= 0 || cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("%w: min %d max %d", ErrInvalidPoolSize, cfg.MinSize, cfg.MaxSize)
	}
	if cfg.MaxIdle <= 0 || cfg.MaxIdle > cfg.MaxSize {
		cfg.MaxIdle = cfg.MaxSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		idle:    make(chan idleEntry[T], cfg.MaxSize),
		inUse:   make(map[T]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.MinSize; i++ {
		resource, err := factory.Create()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to pre-create resource %d: %w", i, err)
		}
		p.total++
		p.idle <- idleEntry[T]{resource: resource, since: time.Now()}
	}

	if cfg.IdleTimeout > 0 {
		p.cleanupWg.Add(1)
		go p.cleanupLoop()
	}
	return p, nil
}

// Acquire 获取资源，池满时等待归还直到超时或 ctx 结束
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		if p.isClosed() {
			return zero, ErrPoolClosed
		}

		select {
		case entry, ok := <-p.idle:
			if !ok {
				return zero, ErrPoolClosed
			}
			if p.checkout(entry.resource) {
				return entry.resource, nil
			}
			continue
		default:
		}

		resource, created, err := p.tryCreate()
		if err != nil {
			return zero, err
		}
		if created {
			return resource, nil
		}

		select {
		case entry, ok := <-p.idle:
			if !ok {
				return zero, ErrPoolClosed
			}
			if p.checkout(entry.resource) {
				return entry.resource, nil
			}
		case <-ctx.Done():
			return zero, fmt.Errorf("acquire resource: %w", ctx.Err())
		}
	}
}

// checkout 校验并重置空闲资源，不可用的直接销毁
func (p *Pool[T]) checkout(resource T) bool {
	if !resource.IsValid() {
		p.destroy(resource)
		return false
	}
	if err := p.factory.Reset(resource); err != nil {
		p.destroy(resource)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.total--
		resource.Close()
		return false
	}
	p.inUse[resource] = struct{}{}
	return true
}

func (p *Pool[T]) tryCreate() (T, bool, error) {
	var zero T
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, false, ErrPoolClosed
	}
	if p.total >= p.cfg.MaxSize {
		p.mu.Unlock()
		return zero, false, nil
	}
	p.total++
	p.mu.Unlock()

	resource, err := p.factory.Create()
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return zero, false, fmt.Errorf("create resource: %w", err)
	}

	p.mu.Lock()
	p.inUse[resource] = struct{}{}
	p.mu.Unlock()
	return resource, true, nil
}

func (p *Pool[T]) destroy(resource T) {
	resource.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Release 归还资源
func (p *Pool[T]) Release(resource T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[resource]; !ok {
		return ErrNotPooled
	}
	delete(p.inUse, resource)

	if p.closed || !resource.IsValid() || len(p.idle) >= p.cfg.MaxIdle {
		p.total--
		return resource.Close()
	}

	select {
	case p.idle <- idleEntry[T]{resource: resource, since: time.Now()}:
		return nil
	default:
		p.total--
		return resource.Close()
	}
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[T]) cleanupLoop() {
	defer p.cleanupWg.Done()
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cleanupIdle(time.Now())
		}
	}
}

// cleanupIdle 销毁空闲超时的资源，保留 MinSize
func (p *Pool[T]) cleanupIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	n := len(p.idle)
	for i := 0; i < n; i++ {
		var entry idleEntry[T]
		select {
		case entry = <-p.idle:
		default:
			return
		}
		if p.total > p.cfg.MinSize && now.Sub(entry.since) > p.cfg.IdleTimeout {
			entry.resource.Close()
			p.total--
			continue
		}
		p.idle <- entry
	}
}

// Stats 获取资源池统计信息
func (p *Pool[T]) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"total_resources":     p.total,
		"available_resources": len(p.idle),
		"in_use_resources":    len(p.inUse),
		"max_size":            p.cfg.MaxSize,
		"min_size":            p.cfg.MinSize,
		"max_idle":            p.cfg.MaxIdle,
		"is_closed":           p.closed,
	}
}

// Close 关闭资源池，在用资源在归还时关闭
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.cleanupWg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.idle)
	for entry := range p.idle {
		entry.resource.Close()
		p.total--
	}
	return nil
}

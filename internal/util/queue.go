package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue closed")
var ErrQueueTimeout = errors.New("queue pop timeout")
var ErrQueueEmpty = errors.New("queue empty (non-blocking pop)")
var ErrQueueFull = errors.New("queue full")

// Queue 基于 chan 的有界并发安全队列
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
	// dropped PushDropOldest 因队列满丢弃的数量
	dropped uint64
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// TryPush 非阻塞写入，满时返回 ErrQueueFull
func (q *Queue[T]) TryPush(val T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- val:
		return nil
	default:
		return ErrQueueFull
	}
}

// PushDropOldest 满时丢弃最旧的元素再写入，写入方永不阻塞
func (q *Queue[T]) PushDropOldest(val T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for {
		select {
		case q.ch <- val:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped++
		default:
		}
	}
}

// Pop 读取一个元素
// timeout<0: 非阻塞
// timeout=0: 阻塞直到有元素、队列关闭或 ctx 结束
// timeout>0: 最多等待 timeout
// 关闭后仍可读出剩余元素，读空后返回 ErrQueueClosed
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	if timeout < 0 {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return zero, ErrQueueClosed
			}
			return v, nil
		default:
			return zero, ErrQueueEmpty
		}
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	case <-timer:
		return zero, ErrQueueTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Chan 只读通道，关闭后 range 自然结束
func (q *Queue[T]) Chan() <-chan T {
	return q.ch
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Dropped() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}

// Close 永久关闭队列，之后的写入返回 ErrQueueClosed
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

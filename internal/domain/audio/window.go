package audio

import (
	"fmt"
	"sync"
)

// Window 最近采样的环形缓冲，写入方与分析方可以在不同协程
type Window struct {
	mu    sync.Mutex
	buf   []float32
	mask  int
	pos   int // 下一个写入位置
	total int64
}

// NewWindow 创建容量为 capacity 的窗口，capacity 必须是 2 的幂
func NewWindow(capacity int) (*Window, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("window capacity must be a power of two, got %d", capacity)
	}
	return &Window{
		buf:  make([]float32, capacity),
		mask: capacity - 1,
	}, nil
}

func (w *Window) Cap() int {
	return len(w.buf)
}

// Written 累计写入的采样数
func (w *Window) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Write 追加采样，超出容量时覆盖最旧的数据
func (w *Window) Write(samples []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.total += int64(len(samples))
	if len(samples) > len(w.buf) {
		samples = samples[len(samples)-len(w.buf):]
	}
	n := copy(w.buf[w.pos:], samples)
	if n < len(samples) {
		copy(w.buf, samples[n:])
	}
	w.pos = (w.pos + len(samples)) & w.mask
}

// CopyLatest 按时间顺序把最近 len(dst) 个采样复制到 dst，尚未写满的部分为 0
func (w *Window) CopyLatest(dst []float32) error {
	if len(dst) > len(w.buf) {
		return fmt.Errorf("requested %d samples, window holds %d", len(dst), len(w.buf))
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	start := (w.pos - len(dst)) & w.mask
	n := copy(dst, w.buf[start:])
	if n < len(dst) {
		copy(dst[n:], w.buf[:len(dst)-n])
	}
	return nil
}

// Reset 清空窗口
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.pos = 0
	w.total = 0
}

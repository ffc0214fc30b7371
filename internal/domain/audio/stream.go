package audio

import (
	"fmt"
	"sync"
	"time"

	"meeting-speaker-server-golang/internal/domain/speech"

	"github.com/jonboulle/clockwork"
)

// Stream 一路实时音频输入，实现 speech.Source
type Stream struct {
	window *Window

	mu     sync.RWMutex
	closed bool

	// 实时模式下按到达时间计算窗口覆盖
	clock      clockwork.Clock
	sampleRate int
	tolerance  time.Duration
	covered    time.Time
}

type StreamOption func(*Stream)

// WithLiveClock 实时模式，窗口中超过 tolerance 仍未到达音频的部分按静音分析
func WithLiveClock(clock clockwork.Clock, sampleRate int, tolerance time.Duration) StreamOption {
	return func(s *Stream) {
		if clock == nil || sampleRate <= 0 {
			return
		}
		s.clock = clock
		s.sampleRate = sampleRate
		s.tolerance = tolerance
	}
}

func NewStream(capacity int, opts ...StreamOption) (*Stream, error) {
	window, err := NewWindow(capacity)
	if err != nil {
		return nil, err
	}
	s := &Stream{window: window}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write 写入解码后的单声道采样，关闭后丢弃
func (s *Stream) Write(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.window.Write(samples)

	if s.clock == nil || len(samples) == 0 {
		return
	}
	now := s.clock.Now()
	if s.covered.Before(now) {
		s.covered = now
	}
	s.covered = s.covered.Add(s.samplesDuration(len(samples)))
	// 突发写入最多覆盖一个缓冲区时长
	if limit := now.Add(s.samplesDuration(s.window.Cap())); s.covered.After(limit) {
		s.covered = limit
	}
}

func (s *Stream) samplesDuration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(s.sampleRate))
}

// staleSamples 窗口末尾没有音频覆盖的采样数，最多 n
func (s *Stream) staleSamples(n int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clock == nil {
		return 0
	}
	gap := s.clock.Now().Sub(s.covered) - s.tolerance
	if gap <= 0 {
		return 0
	}
	if gap >= s.samplesDuration(n) {
		return n
	}
	return int(int64(gap) * int64(s.sampleRate) / int64(time.Second))
}

func (s *Stream) Window() *Window {
	return s.window
}

// Close 移除音频源，之后的分析返回 speech.ErrSourceClosed
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Stream) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Stream) Analyser(windowSize int) (speech.Analyser, error) {
	if windowSize > s.window.Cap() {
		return nil, fmt.Errorf("%w: window %d exceeds stream buffer %d", speech.ErrAnalyserUnavailable, windowSize, s.window.Cap())
	}
	if s.IsClosed() {
		return nil, speech.ErrSourceClosed
	}
	return &streamAnalyser{stream: s}, nil
}

type streamAnalyser struct {
	stream *Stream
}

func (a *streamAnalyser) CopyTimeDomain(dst []float32) error {
	if a.stream.IsClosed() {
		return speech.ErrSourceClosed
	}
	stale := a.stream.staleSamples(len(dst))
	fresh := len(dst) - stale
	if err := a.stream.window.CopyLatest(dst[:fresh]); err != nil {
		return err
	}
	for i := fresh; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func (a *streamAnalyser) Close() error {
	return nil
}

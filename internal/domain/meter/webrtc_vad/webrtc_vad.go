package webrtc_vad

import (
	"errors"
	"fmt"
	"sync"

	"meeting-speaker-server-golang/internal/domain/audio"

	"github.com/hackers365/go-webrtcvad"
)

const (
	// DefaultSampleRate WebRTC VAD 支持的采样率 (8000, 16000, 32000, 48000)
	DefaultSampleRate = 16000
	// DefaultMode VAD 敏感度模式 (0: 最不敏感, 3: 最敏感)
	DefaultMode = 2
	// FrameDuration 帧持续时间 (ms)，WebRTC VAD 支持 10ms, 20ms, 30ms
	FrameDuration = 20
)

var ErrMeterClosed = errors.New("webrtc vad meter closed")

// Meter 以窗口内有声帧占比作为电平，取值 0..1
type Meter struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
	frameSize  int

	// 复用的 PCM16 缓冲
	pcm []byte

	mu     sync.Mutex
	closed bool
}

// New 创建独立的 WebRTC VAD 电平计
func New(sampleRate, mode int) (*Meter, error) {
	if !isValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("unsupported sample rate: %d, supported rates: 8000, 16000, 32000, 48000", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("invalid VAD mode: %d, must be 0-3", mode)
	}

	v, err := webrtcvad.New()
	if err != nil || v == nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD instance: %v", err)
	}
	if err := v.SetMode(mode); err != nil {
		webrtcvad.Free(v)
		return nil, fmt.Errorf("failed to set WebRTC VAD mode: %w", err)
	}

	return &Meter{
		vad:        v,
		sampleRate: sampleRate,
		mode:       mode,
		frameSize:  sampleRate / 1000 * FrameDuration,
	}, nil
}

// Level 按 20ms 切帧，返回有声帧比例，不足一帧的尾部忽略
func (m *Meter) Level(window []float32) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrMeterClosed
	}

	frames := len(window) / m.frameSize
	if frames == 0 {
		return 0, nil
	}

	m.pcm = audio.EncodePCM16(window[:frames*m.frameSize], m.pcm)
	frameBytes := m.frameSize * 2

	voiced := 0
	for i := 0; i < frames; i++ {
		active, err := m.vad.Process(m.sampleRate, m.pcm[i*frameBytes:(i+1)*frameBytes])
		if err != nil {
			return 0, fmt.Errorf("WebRTC VAD process error: %w", err)
		}
		if active {
			voiced++
		}
	}
	return float64(voiced) / float64(frames), nil
}

// Reset 重新设置模式，清除上一个使用者的平滑状态
func (m *Meter) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMeterClosed
	}
	return m.vad.SetMode(m.mode)
}

// Close 释放底层实例
func (m *Meter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed && m.vad != nil {
		webrtcvad.Free(m.vad)
		m.vad = nil
	}
	m.closed = true
	return nil
}

func (m *Meter) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.vad != nil
}

func (m *Meter) SampleRate() int {
	return m.sampleRate
}

func (m *Meter) Mode() int {
	return m.mode
}

func isValidSampleRate(sampleRate int) bool {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

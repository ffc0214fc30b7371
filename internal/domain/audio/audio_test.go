package audio

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"meeting-speaker-server-golang/constants"
	. "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/domain/meter/rms"
	"meeting-speaker-server-golang/internal/domain/speech"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestNewWindowRequiresPowerOfTwo(t *testing.T) {
	_, err := NewWindow(1000)
	assert.Error(t, err)
	_, err = NewWindow(0)
	assert.Error(t, err)
	w, err := NewWindow(8)
	require.NoError(t, err)
	assert.Equal(t, 8, w.Cap())
}

func TestWindowCopyLatest(t *testing.T) {
	w, err := NewWindow(8)
	require.NoError(t, err)

	dst := make([]float32, 4)
	require.NoError(t, w.CopyLatest(dst))
	assert.Equal(t, []float32{0, 0, 0, 0}, dst)

	w.Write(seq(1, 3))
	require.NoError(t, w.CopyLatest(dst))
	assert.Equal(t, []float32{0, 1, 2, 3}, dst)

	// 跨越环形边界
	w.Write(seq(4, 7))
	require.NoError(t, w.CopyLatest(dst))
	assert.Equal(t, []float32{7, 8, 9, 10}, dst)

	full := make([]float32, 8)
	require.NoError(t, w.CopyLatest(full))
	assert.Equal(t, seq(3, 8), full)
	assert.EqualValues(t, 10, w.Written())

	// 超过容量的一次写入只保留末尾
	w.Write(seq(100, 20))
	require.NoError(t, w.CopyLatest(full))
	assert.Equal(t, seq(112, 8), full)

	assert.Error(t, w.CopyLatest(make([]float32, 16)))

	w.Reset()
	require.NoError(t, w.CopyLatest(dst))
	assert.Equal(t, []float32{0, 0, 0, 0}, dst)
	assert.Zero(t, w.Written())
}

func TestStreamAnalyser(t *testing.T) {
	s, err := NewStream(16)
	require.NoError(t, err)

	_, err = s.Analyser(32)
	assert.True(t, errors.Is(err, speech.ErrAnalyserUnavailable))

	a, err := s.Analyser(4)
	require.NoError(t, err)
	s.Write(seq(1, 6))
	dst := make([]float32, 4)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{3, 4, 5, 6}, dst)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, a.CopyTimeDomain(dst), speech.ErrSourceClosed)
	_, err = s.Analyser(4)
	assert.ErrorIs(t, err, speech.ErrSourceClosed)
	assert.NoError(t, a.Close())
}

func TestStreamLiveClockSilencesMissingAudio(t *testing.T) {
	fc := clockwork.NewFakeClock()
	// 1000Hz 下一个采样 1ms
	s, err := NewStream(16, WithLiveClock(fc, 1000, 2*time.Millisecond))
	require.NoError(t, err)
	a, err := s.Analyser(4)
	require.NoError(t, err)
	dst := make([]float32, 4)

	s.Write(seq(1, 8))
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{5, 6, 7, 8}, dst)

	// 容忍范围内的到达抖动不影响
	fc.Advance(10 * time.Millisecond)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{5, 6, 7, 8}, dst)

	fc.Advance(2 * time.Millisecond)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{7, 8, 0, 0}, dst)

	fc.Advance(10 * time.Millisecond)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{0, 0, 0, 0}, dst)

	// 音频恢复
	s.Write(seq(20, 2))
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{7, 8, 20, 21}, dst)

	// 突发写入最多覆盖一个缓冲区
	s.Write(seq(100, 64))
	fc.Advance(20 * time.Millisecond)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{160, 161, 0, 0}, dst)
}

func TestStreamWithoutClockKeepsWindow(t *testing.T) {
	s, err := NewStream(16, WithLiveClock(nil, 16000, 0))
	require.NoError(t, err)
	a, err := s.Analyser(4)
	require.NoError(t, err)

	s.Write(seq(1, 4))
	dst := make([]float32, 4)
	require.NoError(t, a.CopyTimeDomain(dst))
	assert.Equal(t, []float32{1, 2, 3, 4}, dst)
}

func TestDecodePCM(t *testing.T) {
	p, err := GetAudioProcesser(AudioFormat{Format: constants.AudioFormatPCM, SampleRate: 16000, Channels: 2})
	require.NoError(t, err)

	// 左右声道分别为 0.5 与 -0.5 附近，混音后约为 0
	frame := EncodePCM16([]float32{0.5, -0.5, 0.25, 0.25}, nil)
	mono, err := p.Decode(frame)
	require.NoError(t, err)
	require.Len(t, mono, 2)
	assert.InDelta(t, 0, mono[0], 1e-3)
	assert.InDelta(t, 0.25, mono[1], 1e-3)

	_, err = p.Decode([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = GetAudioProcesser(AudioFormat{Format: "mp3"})
	assert.Error(t, err)
}

func TestDecodeOpus(t *testing.T) {
	format := DefaultAudioFormat()
	p, err := GetAudioProcesser(format)
	require.NoError(t, err)

	enc, err := NewAudioEncoder(format)
	require.NoError(t, err)

	pcm := make([]float32, format.FrameSamples())
	for i := range pcm {
		pcm[i] = float32(0.3 * math.Sin(2*math.Pi*400*float64(i)/float64(format.SampleRate)))
	}

	var decoded []float32
	// 编码器有预热，连续送几帧
	for i := 0; i < 5; i++ {
		packet, err := enc.Encode(pcm)
		require.NoError(t, err)
		decoded, err = p.Decode(packet)
		require.NoError(t, err)
	}
	assert.Len(t, decoded, format.FrameSamples())
	assert.Greater(t, rms.Compute(decoded), 0.05)
}

func TestAudioEncoder(t *testing.T) {
	enc, err := NewAudioEncoder(AudioFormat{Format: constants.AudioFormatPCM})
	require.NoError(t, err)
	assert.Equal(t, 16000, enc.Format().SampleRate)
	out, err := enc.Encode([]float32{0.5, -2})
	require.NoError(t, err)
	assert.Equal(t, EncodePCM16([]float32{0.5, -1}, nil), out)

	opusEnc, err := NewAudioEncoder(DefaultAudioFormat())
	require.NoError(t, err)
	_, err = opusEnc.Encode(make([]float32, 100))
	assert.Error(t, err)

	_, err = NewAudioEncoder(AudioFormat{Format: constants.AudioFormatPCM, Channels: 2})
	assert.Error(t, err)
	_, err = NewAudioEncoder(AudioFormat{Format: "mp3"})
	assert.Error(t, err)
}

func TestWavRoundTripAndFeeder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")

	clip := &Clip{Samples: make([]float32, 8000), SampleRate: 8000}
	for i := range clip.Samples {
		if (i/4)%2 == 0 {
			clip.Samples[i] = 0.25
		} else {
			clip.Samples[i] = -0.25
		}
	}
	require.NoError(t, SaveWav(path, clip))

	loaded, err := LoadWav(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, loaded.SampleRate)
	require.Len(t, loaded.Samples, 8000)
	assert.InDelta(t, 0.25, rms.Compute(loaded.Samples), 1e-3)
	assert.Equal(t, time.Second, loaded.Duration())

	resampled, err := LoadWav(path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, resampled.SampleRate)
	assert.InDelta(t, 16000, len(resampled.Samples), 256)

	stream, err := NewStream(2048)
	require.NoError(t, err)
	feeder := NewFeeder(resampled)
	steps := 0
	for feeder.Feed(stream, 16*time.Millisecond) {
		steps++
	}
	assert.InDelta(t, 63, steps, 1)
	assert.InDelta(t, float64(time.Second), float64(feeder.Position()), float64(20*time.Millisecond))
	assert.EqualValues(t, len(resampled.Samples), stream.Window().Written())

	_, err = LoadWav(filepath.Join(dir, "missing.wav"), 0)
	assert.Error(t, err)
}

package analyze

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-speaker-server-golang/internal/domain/audio"
)

// 0.5s 静音 + 1s 语音 + 1s 静音
func speechClip(rate int) *audio.Clip {
	clip := &audio.Clip{Samples: make([]float32, rate*5/2), SampleRate: rate}
	for i := rate / 2; i < rate*3/2; i++ {
		clip.Samples[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return clip
}

func toneClip(rate int, d time.Duration) *audio.Clip {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	clip := &audio.Clip{Samples: make([]float32, n), SampleRate: rate}
	for i := range clip.Samples {
		clip.Samples[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return clip
}

func TestClipFindsSegment(t *testing.T) {
	segments, err := Clip(speechClip(16000), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, segments, 1)

	seg := segments[0]
	assert.InDelta(t, float64(730*time.Millisecond), float64(seg.Start), float64(50*time.Millisecond))
	assert.InDelta(t, float64(1840*time.Millisecond), float64(seg.End), float64(50*time.Millisecond))
	// 正弦幅度 0.1 的 RMS 约 0.0707
	assert.InDelta(t, 0.0707, seg.Peak, 0.005)
}

func TestClipSilence(t *testing.T) {
	clip := &audio.Clip{Samples: make([]float32, 16000), SampleRate: 16000}
	segments, err := Clip(clip, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestClipEndsWhileSpeaking(t *testing.T) {
	clip := toneClip(16000, time.Second)
	segments, err := Clip(clip, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, clip.Duration(), segments[0].End)
	assert.Less(t, segments[0].Start, 400*time.Millisecond)
}

func TestClipHigherThresholdSuppresses(t *testing.T) {
	opts := DefaultOptions()
	opts.Speech.OnThreshold = 0.2
	opts.Speech.OffThreshold = 0.1
	segments, err := Clip(speechClip(16000), opts)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestClipErrors(t *testing.T) {
	_, err := Clip(&audio.Clip{SampleRate: 16000}, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyClip)

	opts := DefaultOptions()
	opts.Meter = "unknown"
	_, err = Clip(speechClip(16000), opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Speech.OffThreshold = opts.Speech.OnThreshold
	_, err = Clip(speechClip(16000), opts)
	assert.Error(t, err)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "speech.wav")
	require.NoError(t, audio.SaveWav(good, speechClip(16000)))
	missing := filepath.Join(dir, "missing.wav")

	results := Files(context.Background(), []string{good, missing, good}, DefaultOptions(), 2)
	require.Len(t, results, 3)

	assert.Equal(t, good, results[0].File)
	assert.Empty(t, results[0].Error)
	assert.Len(t, results[0].Segments, 1)
	assert.InDelta(t, float64(2500*time.Millisecond), float64(results[0].Duration), float64(time.Millisecond))
	assert.Greater(t, results[0].SpeakingTime(), 900*time.Millisecond)

	assert.Equal(t, missing, results[1].File)
	assert.NotEmpty(t, results[1].Error)

	assert.Equal(t, results[0].Segments, results[2].Segments)
}

func TestFilesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := Files(ctx, []string{"a.wav", "b.wav"}, DefaultOptions(), 2)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEmpty(t, r.Error)
	}
}

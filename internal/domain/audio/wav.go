package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep"
)

// 重采样质量，beep 推荐 3~6
const resampleQuality = 4

// Clip 单声道 float32 音频片段
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// LoadWav 读取 wav 文件，混为单声道并重采样到 targetRate
func LoadWav(path string, targetRate int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm of %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav %s has no usable format", path)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		return nil, fmt.Errorf("wav %s has unknown bit depth", path)
	}

	clip := &Clip{
		Samples:    toMono(buf, bitDepth),
		SampleRate: buf.Format.SampleRate,
	}
	if targetRate > 0 && targetRate != clip.SampleRate {
		clip, err = clip.Resample(targetRate)
		if err != nil {
			return nil, err
		}
	}
	return clip, nil
}

func toMono(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	channels := buf.Format.NumChannels
	scale := float32(int64(1) << uint(bitDepth-1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample 使用 beep 重采样
func (c *Clip) Resample(targetRate int) (*Clip, error) {
	if targetRate <= 0 {
		return nil, errors.New("target sample rate must be positive")
	}
	if targetRate == c.SampleRate {
		return c, nil
	}

	pos := 0
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(c.Samples) {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < len(c.Samples) {
			v := float64(c.Samples[pos])
			samples[n][0], samples[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})

	resampler := beep.Resample(resampleQuality, beep.SampleRate(c.SampleRate), beep.SampleRate(targetRate), src)
	out := make([]float32, 0, len(c.Samples)*targetRate/c.SampleRate+1)
	chunk := make([][2]float64, 512)
	for {
		n, ok := resampler.Stream(chunk)
		for i := 0; i < n; i++ {
			out = append(out, float32(chunk[i][0]))
		}
		if !ok {
			break
		}
	}
	if err := resampler.Err(); err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", c.SampleRate, targetRate, err)
	}
	return &Clip{Samples: out, SampleRate: targetRate}, nil
}

// SaveWav 以 16bit 单声道写出片段
func SaveWav(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, clip.SampleRate, 16, 1, 1)
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		switch {
		case s >= 1:
			data[i] = 32767
		case s <= -1:
			data[i] = -32768
		default:
			data[i] = int(s * 32767)
		}
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav %s: %w", path, err)
	}
	return enc.Close()
}

// Feeder 按时间进度把片段写入 Stream，模拟实时采集
type Feeder struct {
	clip *Clip
	pos  int
}

func NewFeeder(clip *Clip) *Feeder {
	return &Feeder{clip: clip}
}

// Feed 写入接下来 d 时长的采样，片段结束后返回 false
func (f *Feeder) Feed(stream *Stream, d time.Duration) bool {
	if f.pos >= len(f.clip.Samples) {
		return false
	}
	n := int(int64(d) * int64(f.clip.SampleRate) / int64(time.Second))
	end := f.pos + n
	if end > len(f.clip.Samples) {
		end = len(f.clip.Samples)
	}
	stream.Write(f.clip.Samples[f.pos:end])
	f.pos = end
	return true
}

// Position 已写入的时长
func (f *Feeder) Position() time.Duration {
	return time.Duration(f.pos) * time.Second / time.Duration(f.clip.SampleRate)
}

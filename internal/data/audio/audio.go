package audio

import "meeting-speaker-server-golang/constants"

const (
	SampleRate    = 16000
	Channels      = 1
	FrameDuration = 60
	Format        = constants.AudioFormatOpus
)

type AudioFormat struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// DefaultAudioFormat 参会端未声明格式时使用
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		Format:        Format,
		SampleRate:    SampleRate,
		Channels:      Channels,
		FrameDuration: FrameDuration,
	}
}

// Normalize 用默认值补全未填写的字段
func (f AudioFormat) Normalize() AudioFormat {
	def := DefaultAudioFormat()
	if f.Format == "" {
		f.Format = def.Format
	}
	if f.SampleRate <= 0 {
		f.SampleRate = def.SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = def.Channels
	}
	if f.FrameDuration <= 0 {
		f.FrameDuration = def.FrameDuration
	}
	return f
}

// FrameSamples 每帧单声道采样数
func (f AudioFormat) FrameSamples() int {
	return f.SampleRate * f.FrameDuration / 1000
}

package audio

import (
	"fmt"

	"meeting-speaker-server-golang/constants"
	. "meeting-speaker-server-golang/internal/data/audio"

	"gopkg.in/hraban/opus.v2"
)

// opus 单帧编码输出上限
const maxOpusPacket = 4000

// AudioEncoder 把单声道 float32 编码为参会端上传格式，用于模拟参会端和回放
type AudioEncoder struct {
	format  AudioFormat
	encoder *opus.Encoder
	buf     []byte
}

func NewAudioEncoder(format AudioFormat) (*AudioEncoder, error) {
	format = format.Normalize()
	if format.Channels != 1 {
		return nil, fmt.Errorf("encoder only supports mono, got %d channels", format.Channels)
	}
	e := &AudioEncoder{format: format}

	switch format.Format {
	case constants.AudioFormatOpus:
		enc, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("create opus encoder: %w", err)
		}
		e.encoder = enc
		e.buf = make([]byte, maxOpusPacket)
	case constants.AudioFormatPCM:
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format.Format)
	}
	return e, nil
}

func (e *AudioEncoder) Format() AudioFormat {
	return e.format
}

// Encode 编码一帧，opus 要求 len(samples) 恰好为 FrameSamples()
// 返回的切片在下次调用前有效
func (e *AudioEncoder) Encode(samples []float32) ([]byte, error) {
	if e.encoder == nil {
		e.buf = EncodePCM16(samples, e.buf[:0])
		return e.buf, nil
	}
	if len(samples) != e.format.FrameSamples() {
		return nil, fmt.Errorf("opus frame needs %d samples, got %d", e.format.FrameSamples(), len(samples))
	}
	n, err := e.encoder.EncodeFloat32(samples, e.buf[:cap(e.buf)])
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return e.buf[:n], nil
}

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"meeting-speaker-server-golang/constants"
	. "meeting-speaker-server-golang/internal/data/audio"

	"gopkg.in/hraban/opus.v2"
)

// opus 单帧最长 120ms
const maxOpusFrameMs = 120

// AudioProcesser 把参会端上传的音频帧解码为单声道 float32
type AudioProcesser struct {
	format  AudioFormat
	decoder *opus.Decoder
	// 解码缓冲，多声道交织
	pcm  []float32
	mono []float32
}

func GetAudioProcesser(format AudioFormat) (*AudioProcesser, error) {
	format = format.Normalize()
	a := &AudioProcesser{format: format}

	switch format.Format {
	case constants.AudioFormatOpus:
		decoder, err := opus.NewDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		a.decoder = decoder
		a.pcm = make([]float32, format.SampleRate*maxOpusFrameMs/1000*format.Channels)
	case constants.AudioFormatPCM:
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format.Format)
	}
	return a, nil
}

func (a *AudioProcesser) Format() AudioFormat {
	return a.format
}

// Decode 解码一帧，返回的切片在下次调用前有效
func (a *AudioProcesser) Decode(frame []byte) ([]float32, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	switch a.format.Format {
	case constants.AudioFormatOpus:
		return a.decodeOpus(frame)
	default:
		return a.decodePCM(frame)
	}
}

func (a *AudioProcesser) decodeOpus(frame []byte) ([]float32, error) {
	if a.decoder == nil {
		return nil, errors.New("decoder is nil")
	}
	n, err := a.decoder.DecodeFloat32(frame, a.pcm)
	if err != nil {
		return nil, err
	}
	return a.downmix(a.pcm[:n*a.format.Channels]), nil
}

// decodePCM 16bit 小端交织
func (a *AudioProcesser) decodePCM(frame []byte) ([]float32, error) {
	if len(frame)%(2*a.format.Channels) != 0 {
		return nil, fmt.Errorf("pcm frame length %d is not aligned to %d channels", len(frame), a.format.Channels)
	}
	count := len(frame) / 2
	if cap(a.pcm) < count {
		a.pcm = make([]float32, count)
	}
	pcm := a.pcm[:count]
	for i := range pcm {
		pcm[i] = float32(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
	}
	return a.downmix(pcm), nil
}

func (a *AudioProcesser) downmix(pcm []float32) []float32 {
	channels := a.format.Channels
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	if cap(a.mono) < frames {
		a.mono = make([]float32, frames)
	}
	mono := a.mono[:frames]
	for i := range mono {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += pcm[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// EncodePCM16 把 float32 采样编码为 16bit 小端 PCM，超出 [-1, 1] 的部分截断
func EncodePCM16(samples []float32, dst []byte) []byte {
	if cap(dst) < len(samples)*2 {
		dst = make([]byte, len(samples)*2)
	}
	dst = dst[:len(samples)*2]
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1:
			v = 32767
		case s <= -1:
			v = -32768
		default:
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
	return dst
}

package meter

import (
	"fmt"

	"meeting-speaker-server-golang/constants"
	"meeting-speaker-server-golang/internal/domain/meter/inter"
	"meeting-speaker-server-golang/internal/domain/meter/rms"
	"meeting-speaker-server-golang/internal/domain/meter/webrtc_vad"
)

// Acquire 按类型获取电平计，rms 每次新建，webrtc_vad 按采样率从对应的池中获取
func Acquire(provider string, sampleRate int, config map[string]interface{}) (inter.LevelMeter, error) {
	switch provider {
	case "", constants.MeterTypeRMS:
		return rms.New(), nil
	case constants.MeterTypeWebRTCVad:
		return webrtc_vad.Acquire(sampleRate, config)
	default:
		return nil, fmt.Errorf("invalid meter provider: %s", provider)
	}
}

// Release 归还电平计
func Release(m inter.LevelMeter) error {
	switch v := m.(type) {
	case *webrtc_vad.Meter:
		return webrtc_vad.Release(v)
	case nil:
		return nil
	default:
		return m.Close()
	}
}

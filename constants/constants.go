package constants

const (
	MeterTypeRMS       = "rms"
	MeterTypeWebRTCVad = "webrtc_vad"
)

const (
	AudioFormatOpus = "opus"
	AudioFormatPCM  = "pcm"
)

// 参会端控制消息类型
const (
	MessageTypeHello    = "hello"
	MessageTypeMute     = "mute"
	MessageTypeUnmute   = "unmute"
	MessageTypeGoodbye  = "goodbye"
	MessageTypeSpeaking = "speaking"
	MessageTypeSnapshot = "snapshot"
	MessageTypeError    = "error"
)

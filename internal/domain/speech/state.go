package speech

import "time"

// State 检测器状态
type State int

const (
	StateIdle State = iota
	StateSilent
	StatePendingSpeaking
	StateSpeaking
	StatePendingSilent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSilent:
		return "silent"
	case StatePendingSpeaking:
		return "pending_speaking"
	case StateSpeaking:
		return "speaking"
	case StatePendingSilent:
		return "pending_silent"
	default:
		return "unknown"
	}
}

// ActivityState 滞回状态
type ActivityState struct {
	Speaking bool
	// LastAboveThresholdAt 当前连续高于开启阈值的起始时间，未计时为零值
	LastAboveThresholdAt time.Time
	// LastBelowThresholdAt 当前连续低于关闭阈值的起始时间，未计时为零值
	LastBelowThresholdAt time.Time
	// Level 最近一次分析的电平
	Level float64
}

// Event 确认的状态变化
type Event struct {
	Speaking bool
	At       time.Time
	Level    float64
}

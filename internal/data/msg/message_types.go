package msg

import (
	"time"

	"meeting-speaker-server-golang/constants"
	types_audio "meeting-speaker-server-golang/internal/data/audio"
)

// 服务端消息状态
const (
	MessageStateSuccess = "success"
	MessageStateError   = "error"
)

// ClientMessage 参会端发来的控制消息
type ClientMessage struct {
	Type          string                   `json:"type"`
	RoomID        string                   `json:"room_id,omitempty"`
	ParticipantID string                   `json:"participant_id,omitempty"`
	DisplayName   string                   `json:"display_name,omitempty"`
	Version       int                      `json:"version,omitempty"`
	AudioParams   *types_audio.AudioFormat `json:"audio_params,omitempty"`
}

// ServerMessage 服务端回给参会端的消息
type ServerMessage struct {
	Type        string                   `json:"type"`
	SessionID   string                   `json:"session_id,omitempty"`
	Version     int                      `json:"version"`
	State       string                   `json:"state,omitempty"`
	Text        string                   `json:"text,omitempty"`
	AudioFormat *types_audio.AudioFormat `json:"audio_params,omitempty"`
}

// SpeakingEvent 一次确认的说话状态变化
type SpeakingEvent struct {
	Type          string  `json:"type"`
	RoomID        string  `json:"room_id"`
	ParticipantID string  `json:"participant_id"`
	Speaking      bool    `json:"speaking"`
	Level         float64 `json:"level"`
	// 毫秒时间戳
	Timestamp     int64   `json:"ts"`
}

func NewSpeakingEvent(roomID, participantID string, speaking bool, level float64, at time.Time) SpeakingEvent {
	return SpeakingEvent{
		Type:          constants.MessageTypeSpeaking,
		RoomID:        roomID,
		ParticipantID: participantID,
		Speaking:      speaking,
		Level:         level,
		Timestamp:     at.UnixMilli(),
	}
}

// ParticipantState 快照中的单个参会者
type ParticipantState struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Speaking      bool   `json:"speaking"`
	Muted         bool   `json:"muted"`
	Degraded      bool   `json:"degraded"`
	// 加入时间，毫秒时间戳
	JoinedAt      int64  `json:"joined_at"`
}

// RoomSnapshot 会议室当前状态，订阅时首先下发
type RoomSnapshot struct {
	Type         string             `json:"type"`
	RoomID       string             `json:"room_id"`
	Participants []ParticipantState `json:"participants"`
	Timestamp    int64              `json:"ts"`
}

// RoomSummary 会议室列表中的一项
type RoomSummary struct {
	RoomID       string `json:"room_id"`
	Participants int    `json:"participants"`
	Subscribers  int    `json:"subscribers"`
}

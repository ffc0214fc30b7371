package types

import (
	"context"
	"time"
)

const (
	TransportTypeWebsocket = "websocket"
)

// IConn 协议无关的参会端连接，由 websocket 等传输适配器实现
type IConn interface {
	// 发送控制消息
	SendCmd(msg []byte) error
	// 接收控制消息，timeout 语义同 util.Queue.Pop
	RecvCmd(ctx context.Context, timeout time.Duration) ([]byte, error)
	// 接收音频帧
	RecvAudio(ctx context.Context, timeout time.Duration) ([]byte, error)

	GetRoomID() string
	GetParticipantID() string

	Close() error
	// OnClose 连接关闭时回调，可注册多个
	OnClose(func(participantID string))

	GetTransportType() string
}

type OnNewConnection func(conn IConn)

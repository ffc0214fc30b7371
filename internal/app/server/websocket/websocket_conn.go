package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"meeting-speaker-server-golang/internal/app/server/types"
	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	// 60ms 一帧时约 6 秒的缓冲
	recvQueueSize = 100
)

var ErrConnClosed = errors.New("connection is closed")

// WebSocketConn 实现 types.IConn
type WebSocketConn struct {
	conn          *websocket.Conn
	roomID        string
	participantID string

	recvCmdQueue   *util.Queue[[]byte]
	recvAudioQueue *util.Queue[[]byte]

	mu            sync.Mutex
	onCloseCbList []func(participantID string)
	isClosed      bool
}

// NewWebSocketConn 创建连接并启动读协程
func NewWebSocketConn(conn *websocket.Conn, roomID, participantID string) *WebSocketConn {
	instance := &WebSocketConn{
		conn:           conn,
		roomID:         roomID,
		participantID:  participantID,
		recvCmdQueue:   util.NewQueue[[]byte](recvQueueSize),
		recvAudioQueue: util.NewQueue[[]byte](recvQueueSize),
	}
	go instance.readLoop()
	return instance
}

func (w *WebSocketConn) readLoop() {
	defer w.Close()
	for {
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("participant %s/%s read message error: %v", w.roomID, w.participantID, err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := w.recvCmdQueue.TryPush(data); err != nil {
				log.Errorf("recv cmd queue: %v", err)
			}
		case websocket.BinaryMessage:
			// 音频保留最新的
			if err := w.recvAudioQueue.PushDropOldest(data); err != nil {
				return
			}
		}
	}
}

func (w *WebSocketConn) SendCmd(msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return ErrConnClosed
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Errorf("send cmd error: %v", err)
		return err
	}
	return nil
}

func (w *WebSocketConn) RecvCmd(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return w.recvCmdQueue.Pop(ctx, timeout)
}

func (w *WebSocketConn) RecvAudio(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return w.recvAudioQueue.Pop(ctx, timeout)
}

// Close 关闭连接并通知注册方，可重复调用
func (w *WebSocketConn) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return nil
	}
	w.isClosed = true
	w.conn.SetWriteDeadline(time.Now().Add(time.Second))
	w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	callbacks := w.onCloseCbList
	w.mu.Unlock()

	w.conn.Close()
	w.recvCmdQueue.Close()
	w.recvAudioQueue.Close()

	for _, cb := range callbacks {
		if cb != nil {
			cb(w.participantID)
		}
	}
	return nil
}

// OnClose 注册关闭回调，已关闭时立即执行
func (w *WebSocketConn) OnClose(cb func(participantID string)) {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		cb(w.participantID)
		return
	}
	w.onCloseCbList = append(w.onCloseCbList, cb)
	w.mu.Unlock()
}

func (w *WebSocketConn) GetRoomID() string {
	return w.roomID
}

func (w *WebSocketConn) GetParticipantID() string {
	return w.participantID
}

func (w *WebSocketConn) GetTransportType() string {
	return types.TransportTypeWebsocket
}


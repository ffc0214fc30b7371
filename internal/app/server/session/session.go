package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"meeting-speaker-server-golang/constants"
	"meeting-speaker-server-golang/internal/app/server/room"
	"meeting-speaker-server-golang/internal/app/server/types"
	types_audio "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"

	"github.com/google/uuid"
)

const protocolVersion = 1

// Session 一个参会端连接，把控制消息和音频转给会议室
type Session struct {
	id   string
	conn types.IConn
	mgr  *room.Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	participant *room.Participant
	displayName string
	// 在 hello 之前收到 mute 时记住，加入后生效
	muted bool
}

func New(conn types.IConn, mgr *room.Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     uuid.NewString(),
		conn:   conn,
		mgr:    mgr,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Participant 已加入时返回参会者
func (s *Session) Participant() *room.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// Run 处理连接直到关闭，返回前参会者已离开且连接已关闭
func (s *Session) Run() {
	defer s.conn.Close()
	s.conn.OnClose(func(string) {
		s.cancel()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.cmdLoop()
	}()
	go func() {
		defer wg.Done()
		s.audioLoop()
	}()
	wg.Wait()

	s.leave()
}

func (s *Session) cmdLoop() {
	defer s.cancel()
	for {
		data, err := s.conn.RecvCmd(s.ctx, 0)
		if err != nil {
			logRecvErr("cmd", err)
			return
		}
		if err := s.HandleTextMessage(data); err != nil {
			log.Warnf("session %s 处理消息失败: %v", s.id, err)
			s.sendError(err)
		}
	}
}

func (s *Session) audioLoop() {
	defer s.cancel()
	for {
		data, err := s.conn.RecvAudio(s.ctx, 0)
		if err != nil {
			logRecvErr("audio", err)
			return
		}
		p, err := s.ensureJoined(nil)
		if err != nil {
			log.Errorf("session %s 加入会议室失败: %v", s.id, err)
			return
		}
		if err := p.PushAudio(data); err != nil {
			if errors.Is(err, room.ErrParticipantLeft) {
				return
			}
			log.Debugf("session %s: %v", s.id, err)
		}
	}
}

func logRecvErr(kind string, err error) {
	if errors.Is(err, util.ErrQueueClosed) || errors.Is(err, context.Canceled) {
		return
	}
	log.Warnf("recv %s error: %v", kind, err)
}

// HandleTextMessage 处理 hello/mute/unmute/goodbye
func (s *Session) HandleTextMessage(data []byte) error {
	var clientMsg msg.ClientMessage
	if err := json.Unmarshal(data, &clientMsg); err != nil {
		return fmt.Errorf("解析消息失败: %w", err)
	}

	switch clientMsg.Type {
	case constants.MessageTypeHello:
		return s.HandleHelloMessage(&clientMsg)
	case constants.MessageTypeMute:
		s.setMuted(true)
		return nil
	case constants.MessageTypeUnmute:
		s.setMuted(false)
		return nil
	case constants.MessageTypeGoodbye:
		log.Infof("session %s goodbye", s.id)
		return s.conn.Close()
	default:
		return fmt.Errorf("未知消息类型: %s", clientMsg.Type)
	}
}

// HandleHelloMessage 协商音频格式并加入会议室
func (s *Session) HandleHelloMessage(clientMsg *msg.ClientMessage) error {
	if clientMsg.RoomID != "" && clientMsg.RoomID != s.conn.GetRoomID() {
		return fmt.Errorf("room_id %q 与连接的 %q 不一致", clientMsg.RoomID, s.conn.GetRoomID())
	}
	if clientMsg.ParticipantID != "" && clientMsg.ParticipantID != s.conn.GetParticipantID() {
		return fmt.Errorf("participant_id %q 与连接的 %q 不一致", clientMsg.ParticipantID, s.conn.GetParticipantID())
	}

	format := types_audio.DefaultAudioFormat()
	if clientMsg.AudioParams != nil {
		format = clientMsg.AudioParams.Normalize()
	}

	s.mu.Lock()
	if clientMsg.DisplayName != "" {
		s.displayName = clientMsg.DisplayName
	}
	s.mu.Unlock()

	if _, err := s.ensureJoined(&format); err != nil {
		return err
	}

	return s.send(msg.ServerMessage{
		Type:        constants.MessageTypeHello,
		SessionID:   s.id,
		Version:     protocolVersion,
		State:       msg.MessageStateSuccess,
		AudioFormat: &format,
	})
}

// ensureJoined 未加入时按 format 加入，已加入且 format 非空时切换格式
func (s *Session) ensureJoined(format *types_audio.AudioFormat) (*room.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, room.ErrParticipantLeft
	}

	if s.participant != nil {
		if format == nil {
			return s.participant, nil
		}
		err := s.participant.SetFormat(*format)
		if err == nil {
			return s.participant, nil
		}
		if !errors.Is(err, room.ErrSampleRateChanged) {
			return nil, err
		}
		// 同 id 重新加入会替换当前参会者
		log.Infof("session %s %v, 重新加入", s.id, err)
	}

	f := types_audio.DefaultAudioFormat()
	if format != nil {
		f = *format
	}
	p, err := s.mgr.Join(s.conn.GetRoomID(), s.conn.GetParticipantID(), s.displayName, f)
	if err != nil {
		return nil, err
	}
	if s.muted {
		p.SetMuted(true)
	}
	s.participant = p
	go s.watch(p)
	return p, nil
}

// watch 参会者被同 id 的其他连接替换或会议室关闭后结束会话
func (s *Session) watch(p *room.Participant) {
	select {
	case <-p.Done():
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	current := s.participant == p
	s.mu.Unlock()
	if current {
		log.Infof("session %s 参会者 %s 已被移出会议室", s.id, p.ID())
		s.cancel()
	}
}

func (s *Session) setMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	p := s.participant
	s.mu.Unlock()

	if p != nil {
		p.SetMuted(muted)
	}
}

func (s *Session) leave() {
	s.mu.Lock()
	p := s.participant
	s.participant = nil
	s.mu.Unlock()

	if p != nil {
		s.mgr.Leave(p)
	}
}

func (s *Session) send(m msg.ServerMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.conn.SendCmd(data)
}

func (s *Session) sendError(err error) {
	s.send(msg.ServerMessage{
		Type:    constants.MessageTypeError,
		Version: protocolVersion,
		State:   msg.MessageStateError,
		Text:    err.Error(),
	})
}

package room

import (
	"context"
	"time"

	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/util"
)

// Subscriber 会议室说话事件的订阅者，例如前端页面
type Subscriber struct {
	ID     string
	RoomID string
	// Snapshot 订阅时刻的状态，先于任何事件
	Snapshot msg.RoomSnapshot

	events *util.Queue[msg.SpeakingEvent]
}

// Events 事件通道，取消订阅后关闭
func (s *Subscriber) Events() <-chan msg.SpeakingEvent {
	return s.events.Chan()
}

// Next 读取下一个事件，timeout 语义同 util.Queue.Pop
func (s *Subscriber) Next(ctx context.Context, timeout time.Duration) (msg.SpeakingEvent, error) {
	return s.events.Pop(ctx, timeout)
}

// Dropped 因消费过慢被丢弃的事件数
func (s *Subscriber) Dropped() uint64 {
	return s.events.Dropped()
}

// push 满时丢弃最旧的事件，返回是否发生丢弃
func (s *Subscriber) push(ev msg.SpeakingEvent) bool {
	before := s.events.Dropped()
	if err := s.events.PushDropOldest(ev); err != nil {
		return false
	}
	return s.events.Dropped() != before
}

func (s *Subscriber) close() {
	s.events.Close()
}

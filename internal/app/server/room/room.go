package room

import (
	"sort"
	"sync"

	"meeting-speaker-server-golang/constants"
	"meeting-speaker-server-golang/internal/data/msg"
)

// Room 一个会议室的参会者和订阅者
type Room struct {
	id  string
	mgr *Manager

	mu           sync.RWMutex
	participants map[string]*Participant
	subscribers  map[string]*Subscriber
}

func newRoom(id string, mgr *Manager) *Room {
	return &Room{
		id:           id,
		mgr:          mgr,
		participants: make(map[string]*Participant),
		subscribers:  make(map[string]*Subscriber),
	}
}

func (r *Room) ID() string {
	return r.id
}

// Participant 按 id 查找参会者
func (r *Room) Participant(participantID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantID]
	return p, ok
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Snapshot 当前每个参会者的说话状态
func (r *Room) Snapshot() msg.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() msg.RoomSnapshot {
	states := make([]msg.ParticipantState, 0, len(r.participants))
	for _, p := range r.participants {
		states = append(states, p.State())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ParticipantID < states[j].ParticipantID
	})
	return msg.RoomSnapshot{
		Type:         constants.MessageTypeSnapshot,
		RoomID:       r.id,
		Participants: states,
		Timestamp:    r.mgr.clock.Now().UnixMilli(),
	}
}

// addParticipant 返回被替换的旧参会者
func (r *Room) addParticipant(p *Participant) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.participants[p.id]
	r.participants[p.id] = p
	return old
}

// removeParticipant 只移除同一个实例，重连替换后旧实例的离开不影响新实例
func (r *Room) removeParticipant(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.participants[p.id]; !ok || cur != p {
		return false
	}
	delete(r.participants, p.id)
	return true
}

// addSubscriber 快照和注册在同一把锁内，订阅者不会漏掉之后的事件
func (r *Room) addSubscriber(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.Snapshot = r.snapshotLocked()
	r.subscribers[sub.ID] = sub
}

func (r *Room) removeSubscriber(id string) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[id]
	if ok {
		delete(r.subscribers, id)
	}
	return sub, ok
}

// broadcast 返回因订阅者过慢被丢弃的事件数
func (r *Room) broadcast(ev msg.SpeakingEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dropped := 0
	for _, sub := range r.subscribers {
		if sub.push(ev) {
			dropped++
		}
	}
	return dropped
}

func (r *Room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0 && len(r.subscribers) == 0
}

// drain 取出所有参会者和订阅者，用于关闭
func (r *Room) drain() ([]*Participant, []*Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		ps = append(ps, p)
	}
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.participants = make(map[string]*Participant)
	r.subscribers = make(map[string]*Subscriber)
	return ps, subs
}

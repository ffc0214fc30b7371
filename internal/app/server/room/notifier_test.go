package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"meeting-speaker-server-golang/internal/data/msg"

	"github.com/stretchr/testify/assert"
)

// gatedNotifier 第一次投递阻塞到 gate 关闭
type gatedNotifier struct {
	started chan struct{}
	gate    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	seen []string
}

func newGatedNotifier() *gatedNotifier {
	return &gatedNotifier{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (n *gatedNotifier) Name() string { return "gated" }

func (n *gatedNotifier) record(s string) {
	n.once.Do(func() {
		close(n.started)
		<-n.gate
	})
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, s)
}

func (n *gatedNotifier) NotifySpeaking(_ context.Context, ev msg.SpeakingEvent) error {
	n.record(fmt.Sprintf("%s/%s:%v", ev.RoomID, ev.ParticipantID, ev.Speaking))
	return nil
}

func (n *gatedNotifier) NotifyLeave(_ context.Context, roomID, participantID string) error {
	n.record(roomID + "/" + participantID + ":leave")
	return nil
}

func (n *gatedNotifier) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.seen...)
}

func TestDispatcherCoalescesBacklog(t *testing.T) {
	n := newGatedNotifier()
	coalesced := 0
	d := newDispatcher([]Notifier{n}, 1, nil, func() { coalesced++ })
	at := time.UnixMilli(1700000000000)

	d.speaking(msg.NewSpeakingEvent("r1", "alice", true, 0.1, at))
	<-n.started

	// 第一条投递被阻塞，队列只剩一个位置
	d.speaking(msg.NewSpeakingEvent("r1", "bob", true, 0.1, at))
	d.speaking(msg.NewSpeakingEvent("r1", "alice", false, 0, at))
	d.speaking(msg.NewSpeakingEvent("r1", "bob", false, 0, at))
	d.leave("r1", "bob")
	d.speaking(msg.NewSpeakingEvent("r1", "carol", true, 0.1, at))

	close(n.gate)
	d.close()

	assert.Equal(t, []string{
		"r1/alice:true",
		"r1/bob:true",
		"r1/alice:false",
		"r1/bob:leave",
		"r1/carol:true",
	}, n.recorded())
	assert.Equal(t, 1, coalesced)

	d.speaking(msg.NewSpeakingEvent("r1", "dave", true, 0.1, at))
	assert.Len(t, n.recorded(), 5)
}

func TestDispatcherKeepsOrderWithoutBacklog(t *testing.T) {
	n := newGatedNotifier()
	close(n.gate)
	d := newDispatcher([]Notifier{n}, 8, nil, nil)
	at := time.UnixMilli(1700000000000)

	d.speaking(msg.NewSpeakingEvent("r1", "alice", true, 0.1, at))
	d.speaking(msg.NewSpeakingEvent("r1", "alice", false, 0, at))
	d.leave("r1", "alice")
	d.close()

	assert.Equal(t, []string{"r1/alice:true", "r1/alice:false", "r1/alice:leave"}, n.recorded())
}

package room

import (
	"context"
	"sync"
	"time"

	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"
)

const notifyTimeout = 3 * time.Second

// Notifier 把说话状态同步到外部系统
type Notifier interface {
	Name() string
	NotifySpeaking(ctx context.Context, ev msg.SpeakingEvent) error
	// NotifyLeave 参会者离开，清除其保留状态
	NotifyLeave(ctx context.Context, roomID, participantID string) error
}

type notifyTask struct {
	event         *msg.SpeakingEvent
	roomID        string
	participantID string
}

func (t notifyTask) key() string {
	if t.event != nil {
		return t.event.RoomID + "/" + t.event.ParticipantID
	}
	return t.roomID + "/" + t.participantID
}

// dispatcher 单协程按顺序投递，检测器节拍不等待网络
// 队列满时按参会者合并积压，每个参会者只保留最新的状态，离开和最后的 speaking=false 不会丢失
type dispatcher struct {
	notifiers  []Notifier
	queue      *util.Queue[notifyTask]
	onError    func(name string)
	onCoalesce func()

	mu     sync.Mutex
	closed bool
	// 积压的任务，order 为首次积压的顺序
	overflow map[string]notifyTask
	order    []string

	wg sync.WaitGroup
}

func newDispatcher(notifiers []Notifier, queueSize int, onError func(name string), onCoalesce func()) *dispatcher {
	d := &dispatcher{
		notifiers:  notifiers,
		queue:      util.NewQueue[notifyTask](queueSize),
		onError:    onError,
		onCoalesce: onCoalesce,
		overflow:   make(map[string]notifyTask),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) speaking(ev msg.SpeakingEvent) {
	d.enqueue(notifyTask{event: &ev})
}

func (d *dispatcher) leave(roomID, participantID string) {
	d.enqueue(notifyTask{roomID: roomID, participantID: participantID})
}

func (d *dispatcher) enqueue(task notifyTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		log.Debugf("notify dispatcher closed, drop %s", task.key())
		return
	}
	// 有积压时新任务也进积压，保证同一参会者的顺序
	if len(d.overflow) == 0 && d.queue.TryPush(task) == nil {
		return
	}

	key := task.key()
	if _, ok := d.overflow[key]; ok {
		if d.onCoalesce != nil {
			d.onCoalesce()
		}
	} else {
		d.order = append(d.order, key)
	}
	d.overflow[key] = task
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for task := range d.queue.Chan() {
		d.deliverAll(task)
		if d.queue.Len() == 0 {
			d.flushOverflow()
		}
	}
	d.flushOverflow()
}

func (d *dispatcher) flushOverflow() {
	d.mu.Lock()
	order, overflow := d.order, d.overflow
	if len(order) > 0 {
		d.order = nil
		d.overflow = make(map[string]notifyTask)
	}
	d.mu.Unlock()

	for _, key := range order {
		d.deliverAll(overflow[key])
	}
}

func (d *dispatcher) deliverAll(task notifyTask) {
	for _, n := range d.notifiers {
		d.deliver(n, task)
	}
}

func (d *dispatcher) deliver(n Notifier, task notifyTask) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	var err error
	if task.event != nil {
		err = n.NotifySpeaking(ctx, *task.event)
	} else {
		err = n.NotifyLeave(ctx, task.roomID, task.participantID)
	}
	if err != nil {
		log.Warnf("%s 通知失败: %v", n.Name(), err)
		if d.onError != nil {
			d.onError(n.Name())
		}
	}
}

// close 投递完队列和积压中剩余的任务后返回
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.queue.Close()
	d.mu.Unlock()
	d.wg.Wait()
}

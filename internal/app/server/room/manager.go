package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	types_audio "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/domain/audio"
	"meeting-speaker-server-golang/internal/domain/meter"
	"meeting-speaker-server-golang/internal/domain/meter/rms"
	"meeting-speaker-server-golang/internal/domain/speech"
	"meeting-speaker-server-golang/internal/metrics"
	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	DefaultSubscriberQueueSize = 64
	DefaultNotifyQueueSize     = 1024
)

var (
	ErrManagerClosed      = errors.New("room manager closed")
	ErrInvalidID          = errors.New("invalid room id or participant id")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

type Option func(*Manager)

func WithNotifiers(notifiers ...Notifier) Option {
	return func(m *Manager) {
		m.notifiers = append(m.notifiers, notifiers...)
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithScheduler 所有检测器共用的调度器，默认每个检测器使用自己的 ticker
func WithScheduler(sched speech.Scheduler) Option {
	return func(m *Manager) {
		m.sched = sched
	}
}

// WithMeter 电平计类型与配置，见 constants.MeterType*
func WithMeter(provider string, config map[string]interface{}) Option {
	return func(m *Manager) {
		m.meterType = provider
		m.meterConfig = config
	}
}

func WithSubscriberQueueSize(size int) Option {
	return func(m *Manager) {
		m.queueSize = size
	}
}

// Manager 会议室注册表
type Manager struct {
	cfg         speech.Config
	rooms       cmap.ConcurrentMap[string, *Room]
	notifiers   []Notifier
	metrics     *metrics.Metrics
	clock       clockwork.Clock
	sched       speech.Scheduler
	meterType   string
	meterConfig map[string]interface{}
	queueSize   int

	dispatcher *dispatcher

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewManager(cfg speech.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid speech config: %w", err)
	}
	m := &Manager{
		cfg:       cfg,
		rooms:     cmap.New[*Room](),
		queueSize: DefaultSubscriberQueueSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.Default()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if len(m.notifiers) > 0 {
		m.dispatcher = newDispatcher(m.notifiers, DefaultNotifyQueueSize, func(name string) {
			m.metrics.NotifyErrors.WithLabelValues(name).Inc()
		}, m.metrics.NotifyCoalesced.Inc)
	}
	return m, nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Room 查找会议室
func (m *Manager) Room(roomID string) (*Room, bool) {
	return m.rooms.Get(roomID)
}

// RoomIDs 当前存在的会议室
func (m *Manager) RoomIDs() []string {
	return m.rooms.Keys()
}

// Summaries 按 id 排序的会议室概况
func (m *Manager) Summaries() []msg.RoomSummary {
	ids := m.RoomIDs()
	sort.Strings(ids)
	out := make([]msg.RoomSummary, 0, len(ids))
	for _, id := range ids {
		r, ok := m.Room(id)
		if !ok {
			continue
		}
		out = append(out, msg.RoomSummary{
			RoomID:       id,
			Participants: r.ParticipantCount(),
			Subscribers:  r.SubscriberCount(),
		})
	}
	return out
}

// Snapshot 会议室快照，会议室不存在时返回空快照
func (m *Manager) Snapshot(roomID string) msg.RoomSnapshot {
	if r, ok := m.Room(roomID); ok {
		return r.Snapshot()
	}
	return newRoom(roomID, m).Snapshot()
}

// upsertRoom 在 shard 锁内创建或修改会议室，与 removeIfEmpty 互斥
func (m *Manager) upsertRoom(roomID string, fn func(r *Room)) *Room {
	return m.rooms.Upsert(roomID, nil, func(exist bool, valueInMap *Room, _ *Room) *Room {
		r := valueInMap
		if !exist {
			r = newRoom(roomID, m)
			m.metrics.ActiveRooms.Inc()
			log.Infof("会议室 %s 已创建", roomID)
		}
		fn(r)
		return r
	})
}

func (m *Manager) removeIfEmpty(roomID string) {
	removed := m.rooms.RemoveCb(roomID, func(_ string, r *Room, exists bool) bool {
		return exists && r.empty()
	})
	if removed {
		m.metrics.ActiveRooms.Dec()
		log.Infof("会议室 %s 已释放", roomID)
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := util.ValidateIdentifier(id); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidID, err)
		}
	}
	return nil
}

// Join 参会者加入并开始说话检测，同 id 的旧连接会被替换
func (m *Manager) Join(roomID, participantID, displayName string, format types_audio.AudioFormat) (*Participant, error) {
	if err := validateIDs(roomID, participantID); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	processer, err := audio.GetAudioProcesser(format)
	if err != nil {
		return nil, err
	}
	format = processer.Format()
	// 超过两帧没有到达的音频按静音分析，断流时说话状态能正常结束
	stream, err := audio.NewStream(m.cfg.WindowSize*2,
		audio.WithLiveClock(m.clock, format.SampleRate, 2*time.Duration(format.FrameDuration)*time.Millisecond))
	if err != nil {
		return nil, err
	}

	lm, err := meter.Acquire(m.meterType, format.SampleRate, m.meterConfig)
	if err != nil {
		log.Warnf("获取电平计 %s 失败，使用 rms: %v", m.meterType, err)
		lm = rms.New()
	}

	p := &Participant{
		id:          participantID,
		displayName: displayName,
		joinedAt:    m.clock.Now(),
		stream:      stream,
		meter:       lm,
		processer:   processer,
		done:        make(chan struct{}),
	}

	opts := []speech.Option{
		speech.WithListener(p.onEvent),
		speech.WithClock(m.clock),
		speech.WithMeter(lm),
		speech.WithName(roomID + "/" + participantID),
		speech.WithDegradedHandler(func(error) {
			m.metrics.DegradedDetectors.Inc()
		}),
	}
	if m.sched != nil {
		opts = append(opts, speech.WithScheduler(m.sched))
	}
	p.detector, err = speech.NewDetector(m.cfg, opts...)
	if err != nil {
		meter.Release(lm)
		return nil, err
	}

	var old *Participant
	m.upsertRoom(roomID, func(r *Room) {
		p.room = r
		old = r.addParticipant(p)
	})
	if old != nil {
		log.Infof("participant %s/%s 重新加入，关闭旧连接", roomID, participantID)
		m.closeParticipant(old)
	}

	m.metrics.ActiveParticipants.Inc()
	p.detector.Start(stream)
	log.Infof("participant %s/%s 加入会议室, format: %+v", roomID, participantID, processer.Format())
	return p, nil
}

// Leave 参会者离开，说话状态立即归零
func (m *Manager) Leave(p *Participant) {
	if p == nil {
		return
	}
	if !p.room.removeParticipant(p) {
		return
	}
	m.closeParticipant(p)
	m.removeIfEmpty(p.room.id)
	log.Infof("participant %s/%s 离开会议室", p.room.id, p.id)
}

func (m *Manager) closeParticipant(p *Participant) {
	p.close()
	m.metrics.ActiveParticipants.Dec()
	if m.dispatcher != nil {
		m.dispatcher.leave(p.room.id, p.id)
	}
}

// Subscribe 订阅会议室说话事件，会议室不存在时创建
func (m *Manager) Subscribe(roomID string) (*Subscriber, error) {
	if err := validateIDs(roomID); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrManagerClosed
	}

	sub := &Subscriber{
		ID:     uuid.NewString(),
		RoomID: roomID,
		events: util.NewQueue[msg.SpeakingEvent](m.queueSize),
	}
	m.upsertRoom(roomID, func(r *Room) {
		r.addSubscriber(sub)
	})
	m.metrics.Subscribers.Inc()
	return sub, nil
}

func (m *Manager) Unsubscribe(sub *Subscriber) error {
	r, ok := m.rooms.Get(sub.RoomID)
	if !ok {
		return ErrSubscriberNotFound
	}
	if _, ok := r.removeSubscriber(sub.ID); !ok {
		return ErrSubscriberNotFound
	}
	sub.close()
	m.metrics.Subscribers.Dec()
	m.removeIfEmpty(sub.RoomID)
	return nil
}

// publish 检测器回调，扇出到订阅者、通知器和指标
func (m *Manager) publish(r *Room, ev msg.SpeakingEvent) {
	m.metrics.ObserveTransition(ev.Speaking)
	if dropped := r.broadcast(ev); dropped > 0 {
		m.metrics.DroppedEvents.Add(float64(dropped))
	}
	if m.dispatcher != nil {
		m.dispatcher.speaking(ev)
	}
	log.Debugf("participant %s/%s speaking: %v, level: %.4f", ev.RoomID, ev.ParticipantID, ev.Speaking, ev.Level)
}

// Close 关闭所有会议室，等待通知投递完成
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		for _, roomID := range m.rooms.Keys() {
			r, ok := m.rooms.Pop(roomID)
			if !ok {
				continue
			}
			participants, subs := r.drain()
			for _, p := range participants {
				m.closeParticipant(p)
			}
			for _, s := range subs {
				s.close()
				m.metrics.Subscribers.Dec()
			}
			m.metrics.ActiveRooms.Dec()
		}

		if m.dispatcher != nil {
			m.dispatcher.close()
		}
	})
}

package speech

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"meeting-speaker-server-golang/internal/domain/meter/inter"
	"meeting-speaker-server-golang/internal/domain/meter/rms"
	log "meeting-speaker-server-golang/logger"

	"github.com/jonboulle/clockwork"
)

// Listener 在每次确认的状态变化时被调用
// 调用发生在调度协程中，不能在其中同步调用 Stop/SetEnabled/Start
type Listener func(Event)

// Option 检测器可选参数
type Option func(*Detector)

func WithListener(listener Listener) Option {
	return func(d *Detector) {
		d.listener = listener
	}
}

func WithScheduler(sched Scheduler) Option {
	return func(d *Detector) {
		d.sched = sched
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(d *Detector) {
		d.clock = clock
	}
}

// WithMeter 替换默认的 RMS 电平计，阈值需与电平计的量纲匹配
func WithMeter(meter inter.LevelMeter) Option {
	return func(d *Detector) {
		d.meter = meter
	}
}

// WithDegradedHandler 检测器每次进入降级时调用，与 Listener 一样不能在其中同步调用 Stop/SetEnabled/Start
func WithDegradedHandler(fn func(err error)) Option {
	return func(d *Detector) {
		d.onDegraded = fn
	}
}

// WithName 日志中使用的名称
func WithName(name string) Option {
	return func(d *Detector) {
		d.name = name
	}
}

// Detector 说话检测器
// 状态机: Idle -> Silent -> (PendingSpeaking) -> Speaking -> (PendingSilent) -> Silent，
// 断开或禁用时任意状态直接回到 Idle 且 speaking=false
type Detector struct {
	cfg      Config
	name     string
	clock    clockwork.Clock
	sched    Scheduler
	meter    inter.LevelMeter
	listener Listener
	// 进入降级时回调
	onDegraded func(err error)

	// 分析窗口，只在调度协程中读写
	window []float32

	mu       sync.RWMutex
	source   Source
	analyser Analyser
	enabled  bool
	degraded bool
	cancel   func()
	// session 每次激活/停用自增，用于丢弃过期的 tick
	session uint64
	// version 每次确认状态变化自增，用于丢弃过期的通知
	version uint64
	state   ActivityState

	emitMu sync.Mutex
}

// NewDetector 创建检测器，初始为 Idle 且处于启用状态
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	d := &Detector{
		cfg:     cfg,
		name:    "detector",
		enabled: true,
		window:  make([]float32, cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.sched == nil {
		d.sched = NewTickerScheduler(d.clock, cfg.TickInterval)
	}
	if d.meter == nil {
		d.meter = rms.New()
	}
	return d, nil
}

// Start 挂载音频源，启用状态下立即开始分析
// 已挂载的旧源会先被断开
func (d *Detector) Start(src Source) {
	d.Stop()
	if src == nil {
		return
	}

	d.mu.Lock()
	d.source = src
	d.mu.Unlock()

	d.activate()
}

// Stop 断开音频源，同步释放分析资源并强制 speaking=false
func (d *Detector) Stop() {
	d.deactivate()

	d.mu.Lock()
	d.source = nil
	d.degraded = false
	d.mu.Unlock()
}

// SetEnabled 对应麦克风静音开关，禁用时立即强制 speaking=false
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	changed := d.enabled != enabled
	d.enabled = enabled
	d.mu.Unlock()

	if !changed {
		return
	}
	if enabled {
		d.activate()
	} else {
		d.deactivate()
	}
}

// Speaking 当前确认的说话状态
func (d *Detector) Speaking() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Speaking
}

// Snapshot 返回当前滞回状态的副本
func (d *Detector) Snapshot() ActivityState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Degraded 分析能力不可用时为 true，此时永远报告静音
func (d *Detector) Degraded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degraded
}

// Enabled 当前启用标志
func (d *Detector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.analyser == nil {
		return StateIdle
	}
	if d.state.Speaking {
		if !d.state.LastBelowThresholdAt.IsZero() {
			return StatePendingSilent
		}
		return StateSpeaking
	}
	if !d.state.LastAboveThresholdAt.IsZero() {
		return StatePendingSpeaking
	}
	return StateSilent
}

// activate Idle -> Silent
func (d *Detector) activate() {
	d.mu.Lock()
	if d.source == nil || !d.enabled || d.analyser != nil {
		d.mu.Unlock()
		return
	}

	analyser, err := d.source.Analyser(d.cfg.WindowSize)
	if err == nil && analyser == nil {
		err = ErrAnalyserUnavailable
	}
	if err != nil {
		entered := !d.degraded
		d.degraded = true
		d.mu.Unlock()
		log.Errorf("%s: 音频分析不可用，检测器降级为静音: %v", d.name, err)
		if entered {
			d.notifyDegraded(err)
		}
		return
	}

	if err := d.meter.Reset(); err != nil {
		log.Warnf("%s: 重置电平计失败: %v", d.name, err)
	}
	d.analyser = analyser
	d.degraded = false
	d.state = ActivityState{}
	d.session++
	session := d.session
	d.mu.Unlock()

	cancel := d.sched.Schedule(func() bool {
		return d.tick(session)
	})

	d.mu.Lock()
	if d.session != session {
		// 调度期间已被停用或源已移除
		d.mu.Unlock()
		cancel()
		return
	}
	d.cancel = cancel
	d.mu.Unlock()
	log.Debugf("%s: 开始分析, window: %d", d.name, d.cfg.WindowSize)
}

// deactivate 任意状态 -> Idle，不经过保持时间
func (d *Detector) deactivate() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.session++
	d.mu.Unlock()

	// 等待进行中的 tick 结束，之后不会再有回调
	if cancel != nil {
		cancel()
	}

	d.mu.Lock()
	analyser := d.analyser
	d.analyser = nil
	ev, version, changed := d.resetLocked()
	d.mu.Unlock()

	if analyser != nil {
		if err := analyser.Close(); err != nil {
			log.Warnf("%s: 关闭音频分析失败: %v", d.name, err)
		}
	}
	if changed {
		d.emit(ev, version)
	}
}

// resetLocked 清空滞回状态，原来在说话时返回需要发出的事件
func (d *Detector) resetLocked() (Event, uint64, bool) {
	wasSpeaking := d.state.Speaking
	d.state = ActivityState{}
	if !wasSpeaking {
		return Event{}, 0, false
	}
	d.version++
	return Event{Speaking: false, At: d.clock.Now()}, d.version, true
}

func (d *Detector) tick(session uint64) bool {
	d.mu.Lock()
	if d.session != session || d.analyser == nil {
		d.mu.Unlock()
		return false
	}

	level, err := d.measureLocked()
	if err != nil {
		wasDegraded := d.degraded
		ev, version, changed := d.abortLocked(err)
		entered := !wasDegraded && d.degraded
		d.mu.Unlock()
		if changed {
			d.emit(ev, version)
		}
		if entered {
			d.notifyDegraded(err)
		}
		return false
	}

	ev, changed := d.stepLocked(level, d.clock.Now())
	version := d.version
	d.mu.Unlock()

	if changed {
		d.emit(ev, version)
	}
	return true
}

func (d *Detector) measureLocked() (float64, error) {
	if err := d.analyser.CopyTimeDomain(d.window); err != nil {
		return 0, err
	}
	return d.meter.Level(d.window)
}

// abortLocked 在 tick 内部结束本次激活，源移除视为正常禁用，其它错误降级
func (d *Detector) abortLocked(err error) (Event, uint64, bool) {
	if errors.Is(err, ErrSourceClosed) {
		log.Debugf("%s: 音频源已移除", d.name)
		d.source = nil
	} else {
		log.Errorf("%s: 音频分析失败，检测器降级为静音: %v", d.name, err)
		d.degraded = true
	}

	if cerr := d.analyser.Close(); cerr != nil {
		log.Warnf("%s: 关闭音频分析失败: %v", d.name, cerr)
	}
	d.analyser = nil
	d.cancel = nil
	d.session++
	return d.resetLocked()
}

// stepLocked 滞回状态机，返回是否发生确认的翻转
func (d *Detector) stepLocked(level float64, now time.Time) (Event, bool) {
	st := &d.state
	st.Level = level

	if !st.Speaking {
		st.LastBelowThresholdAt = time.Time{}
		if level < d.cfg.OnThreshold {
			st.LastAboveThresholdAt = time.Time{}
			return Event{}, false
		}
		if st.LastAboveThresholdAt.IsZero() {
			st.LastAboveThresholdAt = now
		}
		if now.Sub(st.LastAboveThresholdAt) < d.cfg.HoldDuration {
			return Event{}, false
		}
		st.Speaking = true
		st.LastAboveThresholdAt = time.Time{}
	} else {
		st.LastAboveThresholdAt = time.Time{}
		if level > d.cfg.OffThreshold {
			st.LastBelowThresholdAt = time.Time{}
			return Event{}, false
		}
		if st.LastBelowThresholdAt.IsZero() {
			st.LastBelowThresholdAt = now
		}
		if now.Sub(st.LastBelowThresholdAt) < d.cfg.HoldDuration {
			return Event{}, false
		}
		st.Speaking = false
		st.LastBelowThresholdAt = time.Time{}
	}

	d.version++
	return Event{Speaking: st.Speaking, At: now, Level: level}, true
}

// emit 串行投递通知，期间状态已再次变化则丢弃
func (d *Detector) emit(ev Event, version uint64) {
	if d.listener == nil {
		return
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.RLock()
	current := d.version
	d.mu.RUnlock()
	if current != version {
		return
	}
	d.listener(ev)
}

func (d *Detector) notifyDegraded(err error) {
	if d.onDegraded != nil {
		d.onDegraded(err)
	}
}

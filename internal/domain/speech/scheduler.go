package speech

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler 重复执行的可取消任务
// tick 返回 false 时任务自行结束；cancel 返回后保证 tick 不再被调用
type Scheduler interface {
	Schedule(tick func() bool) (cancel func())
}

// TickerScheduler 固定间隔触发，用于非 UI 环境
type TickerScheduler struct {
	clock    clockwork.Clock
	interval time.Duration
}

// NewTickerScheduler 创建定时调度器，clock 为 nil 时使用真实时钟
func NewTickerScheduler(clock clockwork.Clock, interval time.Duration) *TickerScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &TickerScheduler{clock: clock, interval: interval}
}

func (s *TickerScheduler) Schedule(tick func() bool) func() {
	ticker := s.clock.NewTicker(s.interval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				// 取消与节拍同时就绪时优先取消
				select {
				case <-done:
					return
				default:
				}
				if !tick() {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
		})
		<-exited
	}
}

type manualTask struct {
	mu       sync.Mutex
	tick     func() bool
	finished bool
}

// ManualScheduler 由宿主逐帧驱动，例如跟随显示刷新或测试
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Schedule(tick func() bool) func() {
	task := &manualTask{tick: tick}
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	return func() {
		task.mu.Lock()
		task.finished = true
		task.mu.Unlock()
		s.remove(task)
	}
}

// Frame 执行一帧，返回本帧实际运行的任务数
func (s *ManualScheduler) Frame() int {
	s.mu.Lock()
	tasks := make([]*manualTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	ran := 0
	for _, task := range tasks {
		task.mu.Lock()
		if task.finished {
			task.mu.Unlock()
			continue
		}
		ran++
		if !task.tick() {
			task.finished = true
		}
		finished := task.finished
		task.mu.Unlock()
		if finished {
			s.remove(task)
		}
	}
	return ran
}

// Len 当前挂起的任务数
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *ManualScheduler) remove(task *manualTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t == task {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

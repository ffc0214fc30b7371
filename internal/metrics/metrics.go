package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meeting_speaker"

// Metrics 说话检测相关的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	// 确认的状态翻转，direction: on/off
	Transitions *prometheus.CounterVec
	// 进入降级（始终静音）的检测器
	DegradedDetectors prometheus.Counter

	AudioFrames  prometheus.Counter
	DecodeErrors prometheus.Counter
	// 订阅者队列满被丢弃的事件
	DroppedEvents prometheus.Counter

	ActiveParticipants   prometheus.Gauge
	SpeakingParticipants prometheus.Gauge
	ActiveRooms          prometheus.Gauge
	Subscribers          prometheus.Gauge

	NotifyErrors *prometheus.CounterVec
	// 通知积压时被同一参会者更新状态覆盖的旧通知
	NotifyCoalesced prometheus.Counter
}

// New 在独立的 registry 上创建指标，附带 Go 运行时和进程指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Confirmed speaking state transitions",
		}, []string{"direction"}),
		DegradedDetectors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_detectors_total",
			Help:      "Detectors that fell back to always-silent",
		}),
		AudioFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Audio frames received from participants",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Audio frames that failed to decode",
		}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Speaking events dropped because a subscriber was too slow",
		}),
		ActiveParticipants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_participants",
			Help:      "Participants currently attached",
		}),
		SpeakingParticipants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking_participants",
			Help:      "Participants currently speaking",
		}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one participant or subscriber",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected event subscribers",
		}),
		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed notifier deliveries",
		}, []string{"notifier"}),
		NotifyCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_coalesced_total",
			Help:      "Notifications superseded by a newer state of the same participant while the queue was full",
		}),
	}
}

// ObserveTransition 记录一次确认的翻转
func (m *Metrics) ObserveTransition(speaking bool) {
	if speaking {
		m.Transitions.WithLabelValues("on").Inc()
		m.SpeakingParticipants.Inc()
	} else {
		m.Transitions.WithLabelValues("off").Inc()
		m.SpeakingParticipants.Dec()
	}
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default 进程级单例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

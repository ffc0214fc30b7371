// Package analyze 离线回放录音，用与线上相同的检测器参数输出说话区间，便于调阈值
package analyze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"meeting-speaker-server-golang/internal/domain/audio"
	"meeting-speaker-server-golang/internal/domain/meter"
	"meeting-speaker-server-golang/internal/domain/speech"
	"meeting-speaker-server-golang/internal/util/workqueue"
	log "meeting-speaker-server-golang/logger"
)

const DefaultSampleRate = 16000

var ErrEmptyClip = errors.New("clip has no samples")

// Options 回放参数
type Options struct {
	Speech     speech.Config
	SampleRate int
	// Meter 电平计类型，空为 rms
	Meter       string
	MeterConfig map[string]interface{}
}

func DefaultOptions() Options {
	return Options{
		Speech:     speech.DefaultConfig(),
		SampleRate: DefaultSampleRate,
	}
}

// Segment 一段确认的说话区间，时间相对片段开头
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	// Peak 区间内观测到的最大电平
	Peak float64 `json:"peak"`
}

func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

type Result struct {
	File     string        `json:"file"`
	Duration time.Duration `json:"duration"`
	Segments []Segment     `json:"segments"`
	Error    string        `json:"error,omitempty"`
}

// SpeakingTime 说话总时长
func (r Result) SpeakingTime() time.Duration {
	var total time.Duration
	for _, s := range r.Segments {
		total += s.Duration()
	}
	return total
}

// Clip 以 tick 为步长回放片段，时钟和调度均为手动推进，结果与机器快慢无关
func Clip(clip *audio.Clip, opts Options) ([]Segment, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, ErrEmptyClip
	}

	m, err := meter.Acquire(opts.Meter, clip.SampleRate, opts.MeterConfig)
	if err != nil {
		return nil, fmt.Errorf("acquire meter: %w", err)
	}
	defer meter.Release(m)

	fc := clockwork.NewFakeClock()
	sched := speech.NewManualScheduler()
	start := fc.Now()

	var (
		segments []Segment
		current  *Segment
	)
	det, err := speech.NewDetector(opts.Speech,
		speech.WithClock(fc),
		speech.WithScheduler(sched),
		speech.WithMeter(m),
		speech.WithName("analyze"),
		speech.WithListener(func(ev speech.Event) {
			at := ev.At.Sub(start)
			if ev.Speaking {
				current = &Segment{Start: at, Peak: ev.Level}
				return
			}
			if current != nil {
				current.End = at
				segments = append(segments, *current)
				current = nil
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	stream, err := audio.NewStream(opts.Speech.WindowSize * 2)
	if err != nil {
		return nil, err
	}
	det.Start(stream)
	defer det.Stop()

	step := opts.Speech.TickInterval
	feeder := audio.NewFeeder(clip)
	for feeder.Feed(stream, step) {
		fc.Advance(step)
		sched.Frame()
		if current != nil {
			if level := det.Snapshot().Level; level > current.Peak {
				current.Peak = level
			}
		}
	}

	// 片段结束时仍在说话，区间截止到结尾
	if current != nil {
		current.End = clip.Duration()
		segments = append(segments, *current)
		current = nil
	}
	return segments, nil
}

// File 读取 wav 并回放
func File(path string, opts Options) Result {
	res := Result{File: path}
	clip, err := audio.LoadWav(path, opts.SampleRate)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Duration = clip.Duration()

	segments, err := Clip(clip, opts)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Segments = segments
	return res
}

// Files 并行分析多个文件，结果顺序与输入一致
func Files(ctx context.Context, paths []string, opts Options, workers int) []Result {
	results := make([]Result, len(paths))
	workqueue.ParallelizeUntil(ctx, workers, len(paths), func(i int) {
		results[i] = File(paths[i], opts)
		log.Debugf("analyze %s: %d segments", paths[i], len(results[i].Segments))
	})
	// ctx 取消或任务 panic 时未处理的文件
	for i := range results {
		if results[i].File == "" {
			results[i] = Result{File: paths[i], Error: "not analyzed"}
		}
	}
	return results
}

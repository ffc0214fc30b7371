package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	types_audio "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/domain/audio"
	"meeting-speaker-server-golang/internal/domain/meter"
	"meeting-speaker-server-golang/internal/domain/meter/inter"
	"meeting-speaker-server-golang/internal/domain/speech"
	log "meeting-speaker-server-golang/logger"
)

var (
	ErrParticipantLeft   = errors.New("participant left")
	ErrSampleRateChanged = errors.New("sample rate cannot change after join")
)

// Participant 一个参会者的音频输入和说话检测
type Participant struct {
	id          string
	displayName string
	room        *Room
	joinedAt    time.Time

	stream   *audio.Stream
	detector *speech.Detector
	meter    inter.LevelMeter

	mu        sync.Mutex
	processer *audio.AudioProcesser
	muted     bool
	closed    bool
	done      chan struct{}
}

func (p *Participant) ID() string {
	return p.id
}

func (p *Participant) DisplayName() string {
	return p.displayName
}

func (p *Participant) RoomID() string {
	return p.room.id
}

// Done 参会者离开或被替换后关闭
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

// Detector 底层检测器
func (p *Participant) Detector() *speech.Detector {
	return p.detector
}

func (p *Participant) Speaking() bool {
	return p.detector.Speaking()
}

func (p *Participant) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Participant) State() msg.ParticipantState {
	return msg.ParticipantState{
		ParticipantID: p.id,
		DisplayName:   p.displayName,
		Speaking:      p.detector.Speaking(),
		Muted:         p.Muted(),
		Degraded:      p.detector.Degraded(),
		JoinedAt:      p.joinedAt.UnixMilli(),
	}
}

// PushAudio 解码一帧音频写入分析窗口
func (p *Participant) PushAudio(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrParticipantLeft
	}

	samples, err := p.processer.Decode(frame)
	if err != nil {
		p.room.mgr.metrics.DecodeErrors.Inc()
		return fmt.Errorf("decode audio frame: %w", err)
	}
	p.room.mgr.metrics.AudioFrames.Inc()
	p.stream.Write(samples)
	return nil
}

// SetFormat 参会端重新协商音频格式，分析窗口和电平计按加入时的采样率建立，采样率变化需要重新加入
func (p *Participant) SetFormat(format types_audio.AudioFormat) error {
	processer, err := audio.GetAudioProcesser(format)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if have, want := p.processer.Format().SampleRate, processer.Format().SampleRate; have != want {
		return fmt.Errorf("%w: %d -> %d", ErrSampleRateChanged, have, want)
	}
	p.processer = processer
	return nil
}

// SetMuted 静音等同于禁用检测器，立即报告不在说话
func (p *Participant) SetMuted(muted bool) {
	p.mu.Lock()
	if p.closed || p.muted == muted {
		p.mu.Unlock()
		return
	}
	p.muted = muted
	p.mu.Unlock()

	log.Debugf("participant %s/%s muted: %v", p.room.id, p.id, muted)
	p.detector.SetEnabled(!muted)
}

func (p *Participant) onEvent(ev speech.Event) {
	p.room.mgr.publish(p.room, msg.NewSpeakingEvent(p.room.id, p.id, ev.Speaking, ev.Level, ev.At))
}

// close 断开音频源，返回后检测器不再产生事件
func (p *Participant) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	defer close(p.done)

	p.detector.Stop()
	p.stream.Close()
	if err := meter.Release(p.meter); err != nil {
		log.Warnf("participant %s/%s 释放电平计失败: %v", p.room.id, p.id, err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"meeting-speaker-server-golang/constants"
	types_audio "meeting-speaker-server-golang/internal/data/audio"
	"meeting-speaker-server-golang/internal/data/msg"
	"meeting-speaker-server-golang/internal/domain/audio"
	log "meeting-speaker-server-golang/logger"
)

// 模拟多个参会者向同一会议室推流，可选同时订阅事件流打印说话状态
func main() {
	serverAddr := flag.String("server", "ws://localhost:8989", "服务器地址")
	roomID := flag.String("room", "sim-room", "会议室ID")
	clientCount := flag.Int("count", 3, "参会者数量")
	wavFile := flag.String("wav", "", "推流的 wav 文件，为空时生成说话/静音交替的测试音")
	format := flag.String("format", constants.AudioFormatOpus, "上传格式: opus / pcm")
	token := flag.String("token", "", "鉴权令牌")
	loop := flag.Bool("loop", true, "循环推流")
	watch := flag.Bool("watch", true, "订阅事件流并打印")
	flag.Parse()

	log.UseStdout()

	audioFormat := types_audio.DefaultAudioFormat()
	audioFormat.Format = *format

	clip, err := loadClip(*wavFile, audioFormat.SampleRate)
	if err != nil {
		log.Fatalf("加载音频失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if *watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watchEvents(ctx, *serverAddr, *roomID, *token); err != nil {
				log.Errorf("订阅事件失败: %v", err)
			}
		}()
	}

	for i := 0; i < *clientCount; i++ {
		client := &simClient{
			serverAddr:    *serverAddr,
			roomID:        *roomID,
			participantID: fmt.Sprintf("sim-%d", i),
			token:         *token,
			format:        audioFormat,
			clip:          clip,
			// 错开起始位置，让说话区间交错
			offset: time.Duration(i) * 700 * time.Millisecond,
			loop:   *loop,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.run(ctx); err != nil {
				log.Errorf("%s 运行失败: %v", client.participantID, err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-quit:
		cancel()
		<-done
	case <-done:
	}
}

func loadClip(path string, rate int) (*audio.Clip, error) {
	if path != "" {
		return audio.LoadWav(path, rate)
	}
	// 1.5s 说话 + 1.5s 静音
	clip := &audio.Clip{Samples: make([]float32, rate*3), SampleRate: rate}
	for i := 0; i < rate*3/2; i++ {
		clip.Samples[i] = float32(0.2 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return clip, nil
}

func authHeader(token string) http.Header {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

type simClient struct {
	serverAddr    string
	roomID        string
	participantID string
	token         string
	format        types_audio.AudioFormat
	clip          *audio.Clip
	offset        time.Duration
	loop          bool
}

func (c *simClient) run(ctx context.Context) error {
	header := authHeader(c.token)
	header.Set("Room-Id", c.roomID)
	header.Set("Participant-Id", c.participantID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverAddr+"/meeting/v1/audio", header)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(msg.ClientMessage{
		Type:        constants.MessageTypeHello,
		DisplayName: c.participantID,
		AudioParams: &c.format,
	}); err != nil {
		return err
	}
	var reply msg.ServerMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("读取 hello 响应失败: %w", err)
	}
	if reply.State != msg.MessageStateSuccess {
		return fmt.Errorf("hello 失败: %s", reply.Text)
	}
	log.Infof("%s 已加入 %s, session: %s", c.participantID, c.roomID, reply.SessionID)

	// 服务端只会回复命令，这里丢弃
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	enc, err := audio.NewAudioEncoder(c.format)
	if err != nil {
		return err
	}
	frameSamples := c.format.FrameSamples()
	frame := make([]float32, frameSamples)
	pos := int(int64(c.offset) * int64(c.clip.SampleRate) / int64(time.Second))

	ticker := time.NewTicker(time.Duration(c.format.FrameDuration) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteJSON(msg.ClientMessage{Type: constants.MessageTypeGoodbye})
			return nil
		case <-ticker.C:
		}

		for i := range frame {
			if pos >= len(c.clip.Samples) {
				if !c.loop {
					conn.WriteJSON(msg.ClientMessage{Type: constants.MessageTypeGoodbye})
					return nil
				}
				pos = 0
			}
			frame[i] = c.clip.Samples[pos]
			pos++
		}
		data, err := enc.Encode(frame)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("发送音频失败: %w", err)
		}
	}
}

func watchEvents(ctx context.Context, serverAddr, roomID, token string) error {
	u := fmt.Sprintf("%s/meeting/v1/events?room_id=%s", serverAddr, url.QueryEscape(roomID))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, authHeader(token))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		switch head.Type {
		case constants.MessageTypeSnapshot:
			var snap msg.RoomSnapshot
			json.Unmarshal(data, &snap)
			log.Infof("[snapshot] %s: %d 人", snap.RoomID, len(snap.Participants))
		case constants.MessageTypeSpeaking:
			var ev msg.SpeakingEvent
			json.Unmarshal(data, &ev)
			log.Infof("[speaking] %s speaking=%v level=%.4f", ev.ParticipantID, ev.Speaking, ev.Level)
		}
	}
}

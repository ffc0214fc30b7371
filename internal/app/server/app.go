package server

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"meeting-speaker-server-golang/internal/app/mqtt_server"
	"meeting-speaker-server-golang/internal/app/notify"
	"meeting-speaker-server-golang/internal/app/server/auth"
	"meeting-speaker-server-golang/internal/app/server/room"
	"meeting-speaker-server-golang/internal/app/server/session"
	"meeting-speaker-server-golang/internal/app/server/types"
	"meeting-speaker-server-golang/internal/app/server/websocket"
	redisdb "meeting-speaker-server-golang/internal/db/redis"
	"meeting-speaker-server-golang/internal/domain/speech"
	"meeting-speaker-server-golang/internal/metrics"
	log "meeting-speaker-server-golang/logger"
)

// App 统一管理会议室、通知器和协议服务
type App struct {
	manager      *room.Manager
	wsServer     *websocket.WebSocketServer
	mqttServer   *mqtt_server.Server
	mqttNotifier *notify.MqttNotifier
}

func NewApp() (*App, error) {
	app := &App{}

	// 内置 broker 需要先于 MQTT 通知器启动
	if viper.GetBool("mqtt_server.enable") {
		srv, err := mqtt_server.New(mqtt_server.ConfigFromViper())
		if err != nil {
			return nil, fmt.Errorf("创建内置MQTT服务失败: %w", err)
		}
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("启动内置MQTT服务失败: %w", err)
		}
		app.mqttServer = srv
	}

	notifiers, err := app.newNotifiers()
	if err != nil {
		app.closeMqtt()
		return nil, err
	}

	opts := []room.Option{
		room.WithNotifiers(notifiers...),
		room.WithMetrics(metrics.Default()),
		room.WithMeter(viper.GetString("speech.meter"), viper.GetStringMap("speech.webrtc_vad")),
	}
	if size := viper.GetInt("speech.subscriber_queue_size"); size > 0 {
		opts = append(opts, room.WithSubscriberQueueSize(size))
	}
	app.manager, err = room.NewManager(speech.ConfigFromViper(), opts...)
	if err != nil {
		app.closeMqtt()
		return nil, fmt.Errorf("创建会议室管理器失败: %w", err)
	}

	app.wsServer = app.newWebSocketServer()
	return app, nil
}

func (a *App) newNotifiers() ([]room.Notifier, error) {
	var notifiers []room.Notifier

	if viper.GetBool("redis.enable") {
		client := redisdb.GetClient()
		if client == nil {
			log.Warn("redis 未初始化，跳过 redis 通知器")
		} else {
			ttl := time.Duration(viper.GetInt("redis.state_ttl_sec")) * time.Second
			notifiers = append(notifiers, notify.NewRedisNotifier(client, viper.GetString("redis.key_prefix"), ttl))
		}
	}

	if viper.GetBool("mqtt.enable") {
		n, err := notify.NewMqttNotifier(notify.MqttConfigFromViper())
		if err != nil {
			return nil, fmt.Errorf("创建MQTT通知器失败: %w", err)
		}
		a.mqttNotifier = n
		notifiers = append(notifiers, n)
	}

	for _, n := range notifiers {
		log.Infof("已启用通知器: %s", n.Name())
	}
	return notifiers, nil
}

func (a *App) newWebSocketServer() *websocket.WebSocketServer {
	port := viper.GetInt("websocket.port")
	opts := []websocket.WebSocketServerOption{
		websocket.WithOnNewConnection(a.OnNewConnection),
		websocket.WithMetricsHandler(metrics.Default().Handler()),
	}
	if viper.GetBool("auth.enable") {
		opts = append(opts, websocket.WithAuthManager(auth.A()))
	}
	if a.mqttServer != nil {
		cfg := mqtt_server.ConfigFromViper()
		groupID := viper.GetString("mqtt_server.group_id")
		if groupID == "" {
			groupID = "meeting"
		}
		opts = append(opts, websocket.WithMqttCredentials(websocket.MqttCredentialConfig{
			GroupID:      groupID,
			SignatureKey: cfg.SignatureKey,
			Endpoint:     viper.GetString("mqtt_server.public_endpoint"),
			TopicPrefix:  cfg.TopicPrefix,
		}))
	}
	return websocket.NewWebSocketServer(port, a.manager, opts...)
}

// Run 阻塞直到 WebSocket 服务退出
func (a *App) Run() error {
	return a.wsServer.Start()
}

// Shutdown 停止接入，结束所有参会者并等待通知投递完毕
func (a *App) Shutdown(ctx context.Context) {
	if err := a.wsServer.Shutdown(ctx); err != nil {
		log.Errorf("关闭WebSocket服务失败: %v", err)
	}
	a.manager.Close()
	if a.mqttNotifier != nil {
		a.mqttNotifier.Close()
	}
	a.closeMqtt()
}

func (a *App) closeMqtt() {
	if a.mqttServer == nil {
		return
	}
	if err := a.mqttServer.Close(); err != nil {
		log.Errorf("关闭内置MQTT服务失败: %v", err)
	}
}

// 所有协议新连接都走这里
func (a *App) OnNewConnection(transport types.IConn) {
	log.Infof("新连接: room=%s participant=%s transport=%s",
		transport.GetRoomID(), transport.GetParticipantID(), transport.GetTransportType())
	go session.New(transport, a.manager).Run()
}

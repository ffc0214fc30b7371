package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"meeting-speaker-server-golang/internal/app/server/auth"
	"meeting-speaker-server-golang/internal/app/server/room"
	"meeting-speaker-server-golang/internal/app/server/types"
	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"
)

const pingInterval = 30 * time.Second

// MqttCredentialConfig 观察端 MQTT 凭据下发配置
type MqttCredentialConfig struct {
	GroupID      string `json:"-"`
	SignatureKey string `json:"-"`
	// Endpoint 观察端连接的 broker 地址，例如 ws://host:8083/mqtt
	Endpoint    string `json:"endpoint"`
	TopicPrefix string `json:"topic_prefix"`
}

// WebSocketServer 参会端音频接入和前端事件推送
type WebSocketServer struct {
	upgrader    websocket.Upgrader
	port        int
	authManager *auth.AuthManager
	authEnable  bool
	manager     *room.Manager

	metricsHandler http.Handler
	mqttCreds      *MqttCredentialConfig

	onNewConnection types.OnNewConnection
	httpServer      *http.Server
}

// WebSocketServerOption 用于配置 WebSocketServer 的可选参数
type WebSocketServerOption func(*WebSocketServer)

// WithAuthManager 启用令牌鉴权
func WithAuthManager(authManager *auth.AuthManager) WebSocketServerOption {
	return func(s *WebSocketServer) {
		s.authManager = authManager
		s.authEnable = authManager != nil
	}
}

func WithOnNewConnection(onNewConnection types.OnNewConnection) WebSocketServerOption {
	return func(s *WebSocketServer) {
		s.onNewConnection = onNewConnection
	}
}

// WithMetricsHandler 挂载 /metrics
func WithMetricsHandler(h http.Handler) WebSocketServerOption {
	return func(s *WebSocketServer) {
		s.metricsHandler = h
	}
}

// WithMqttCredentials 开启 /meeting/v1/rooms/{room_id}/mqtt
func WithMqttCredentials(cfg MqttCredentialConfig) WebSocketServerOption {
	return func(s *WebSocketServer) {
		s.mqttCreds = &cfg
	}
}

func NewWebSocketServer(port int, manager *room.Manager, opts ...WebSocketServerOption) *WebSocketServer {
	s := &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
		port:    port,
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 所有路由
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /meeting/v1/audio", s.handleAudio)
	mux.HandleFunc("GET /meeting/v1/events", s.handleEvents)
	mux.HandleFunc("GET /meeting/v1/rooms", s.handleRooms)
	mux.HandleFunc("GET /meeting/v1/rooms/{room_id}", s.handleRoomSnapshot)
	if s.mqttCreds != nil {
		mux.HandleFunc("GET /meeting/v1/rooms/{room_id}/mqtt", s.handleMqttCredentials)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return mux
}

// Start 启动 HTTP 服务，阻塞直到 Shutdown
func (s *WebSocketServer) Start() error {
	listenAddr := fmt.Sprintf("0.0.0.0:%d", s.port)
	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("WebSocket 服务器启动在 ws://%s/meeting/v1/audio", listenAddr)
	log.Infof("事件推送端点: ws://%s/meeting/v1/events?room_id={room_id}", listenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("WebSocket 服务器启动失败: %w", err)
	}
	return nil
}

func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// authorize 鉴权失败时已写入响应
func (s *WebSocketServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !s.authEnable {
		return true
	}
	token := r.Header.Get("Authorization")
	if token == "" {
		// 浏览器的 WebSocket 无法设置请求头
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		log.Warn("缺少 Authorization 请求头")
		http.Error(w, "缺少 Authorization 请求头", http.StatusUnauthorized)
		return false
	}
	if !s.authManager.ValidateToken(token) {
		log.Warnf("无效的令牌: %s", token)
		http.Error(w, "无效的令牌", http.StatusUnauthorized)
		return false
	}
	return true
}

// handleAudio 参会端音频连接
func (s *WebSocketServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	roomID := r.Header.Get("Room-Id")
	participantID := r.Header.Get("Participant-Id")
	if roomID == "" || participantID == "" {
		log.Warn("缺少 Room-Id 或 Participant-Id 请求头")
		http.Error(w, "缺少 Room-Id 或 Participant-Id 请求头", http.StatusBadRequest)
		return
	}
	if !validIDs(w, roomID, participantID) {
		return
	}
	if !s.authorize(w, r) {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}

	wsConn := NewWebSocketConn(conn, roomID, participantID)
	if s.onNewConnection != nil {
		s.onNewConnection(wsConn)
	}
}

// handleEvents 前端订阅会议室说话事件，先推送快照
func (s *WebSocketServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "缺少 room_id 参数", http.StatusBadRequest)
		return
	}
	if !validIDs(w, roomID) {
		return
	}
	if !s.authorize(w, r) {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	sub, err := s.manager.Subscribe(roomID)
	if err != nil {
		log.Errorf("订阅会议室 %s 失败: %v", roomID, err)
		return
	}
	defer s.manager.Unsubscribe(sub)

	// 读协程只用于感知对端关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(conn, sub.Snapshot); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (s *WebSocketServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": s.manager.Summaries(),
	})
}

func (s *WebSocketServer) handleRoomSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if !validIDs(w, roomID) || !s.authorize(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, s.manager.Snapshot(roomID))
}

func (s *WebSocketServer) handleMqttCredentials(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if !validIDs(w, roomID) || !s.authorize(w, r) {
		return
	}
	creds, err := util.GenerateMqttCredentials(s.mqttCreds.GroupID, roomID, s.mqttCreds.SignatureKey)
	if err != nil {
		log.Warnf("生成MQTT凭据失败: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint":     s.mqttCreds.Endpoint,
		"topic":        fmt.Sprintf("%s/%s/#", s.mqttCreds.TopicPrefix, roomID),
		"client_id":    creds.ClientId,
		"username":     creds.Username,
		"password":     creds.Password,
		"topic_prefix": s.mqttCreds.TopicPrefix,
	})
}

// validIDs id 不合法时已写入 400
func validIDs(w http.ResponseWriter, ids ...string) bool {
	for _, id := range ids {
		if err := util.ValidateIdentifier(id); err != nil {
			log.Warnf("无效的 id: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return false
		}
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("写入响应失败: %v", err)
	}
}

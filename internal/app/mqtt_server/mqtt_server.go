package mqtt_server

import (
	"crypto/tls"
	"errors"
	"fmt"

	mqttServer "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/viper"

	log "meeting-speaker-server-golang/logger"
)

type TLSConfig struct {
	Enable bool   `mapstructure:"enable"`
	Port   int    `mapstructure:"port"`
	Pem    string `mapstructure:"pem"`
	Key    string `mapstructure:"key"`
}

// Config 内置 MQTT broker 配置
type Config struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
	EnableAuth bool   `mapstructure:"enable_auth"`
	// 超级管理员，服务端通知器使用
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// SignatureKey 观察端凭据签名密钥
	SignatureKey string `mapstructure:"signature_key"`
	// TopicPrefix 说话状态主题前缀，观察端只能订阅自己会议室下的主题
	TopicPrefix string    `mapstructure:"topic_prefix"`
	TLS         TLSConfig `mapstructure:"tls"`
}

// ConfigFromViper 读取 mqtt_server.*，topic_prefix 与 mqtt.topic_prefix 保持一致
func ConfigFromViper() Config {
	var cfg Config
	if err := viper.UnmarshalKey("mqtt_server", &cfg); err != nil {
		log.Warnf("解析mqtt_server配置失败: %v", err)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = viper.GetString("mqtt.topic_prefix")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "meeting/speaking"
	}
	return cfg
}

// Server 内置 broker，让 MQTT 通知不依赖外部设施
type Server struct {
	cfg    Config
	server *mqttServer.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.ListenPort == 0 {
		return nil, errors.New("mqtt_server.listen_port 配置错误，请检查配置文件")
	}

	server := mqttServer.New(&mqttServer.Options{
		InlineClient: true,
	})

	if err := server.AddHook(&AuthHook{cfg: cfg}, nil); err != nil {
		return nil, fmt.Errorf("添加 AuthHook 失败: %w", err)
	}
	if err := server.AddHook(&RoomHook{cfg: cfg}, nil); err != nil {
		return nil, fmt.Errorf("添加 RoomHook 失败: %w", err)
	}

	if cfg.TLS.Enable {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Pem, cfg.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("加载证书失败: %w", err)
		}
		ssltcp := listeners.NewTCP(listeners.Config{
			ID:        "ssl",
			Address:   fmt.Sprintf(":%d", cfg.TLS.Port),
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		})
		if err := server.AddListener(ssltcp); err != nil {
			return nil, fmt.Errorf("添加 TLS 监听失败: %w", err)
		}
	}

	address := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: address,
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("添加 TCP 监听失败: %w", err)
	}

	return &Server{cfg: cfg, server: server}, nil
}

// Start 启动监听，不阻塞
func (s *Server) Start() error {
	if err := s.server.Serve(); err != nil {
		return fmt.Errorf("MQTT 服务器启动失败: %w", err)
	}
	log.Infof("MQTT 服务器启动，监听 %s:%d", s.cfg.ListenHost, s.cfg.ListenPort)
	return nil
}

func (s *Server) Close() error {
	return s.server.Close()
}

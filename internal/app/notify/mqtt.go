package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meeting-speaker-server-golang/internal/data/msg"
	log "meeting-speaker-server-golang/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/viper"
)

// MqttConfig 发布说话状态的 MQTT 客户端配置
type MqttConfig struct {
	Broker      string `mapstructure:"broker"`
	Type        string `mapstructure:"type"`
	Port        int    `mapstructure:"port"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

func MqttConfigFromViper() MqttConfig {
	cfg := MqttConfig{
		Type:        "tcp",
		ClientID:    "meeting-speaker-server",
		TopicPrefix: "meeting/speaking",
		QoS:         1,
	}
	if err := viper.UnmarshalKey("mqtt", &cfg); err != nil {
		log.Warnf("解析mqtt配置失败: %v", err)
	}
	return cfg
}

// MqttNotifier 每个参会者一个保留消息主题 {prefix}/{room}/{participant}，
// 新订阅者立即拿到当前状态，离开时清除保留消息
type MqttNotifier struct {
	cfg    MqttConfig
	client mqtt.Client
}

// NewMqttNotifier 连接 broker，断线后自动重连
func NewMqttNotifier(cfg MqttConfig) (*MqttNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", cfg.Type, cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Errorf("MQTT连接丢失: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("MQTT已连接: %s:%d", cfg.Broker, cfg.Port)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry 打开时会在后台继续重试
		log.Warnf("连接MQTT服务器超时，后台重试: %s:%d", cfg.Broker, cfg.Port)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("连接MQTT服务器失败: %w", err)
	}

	return &MqttNotifier{cfg: cfg, client: client}, nil
}

func (n *MqttNotifier) Name() string {
	return "mqtt"
}

func (n *MqttNotifier) Topic(roomID, participantID string) string {
	return fmt.Sprintf("%s/%s/%s", n.cfg.TopicPrefix, roomID, participantID)
}

func (n *MqttNotifier) NotifySpeaking(ctx context.Context, ev msg.SpeakingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal speaking event: %w", err)
	}
	return n.publish(ctx, n.Topic(ev.RoomID, ev.ParticipantID), payload)
}

// NotifyLeave 空的保留消息会删除 broker 上的保留状态
func (n *MqttNotifier) NotifyLeave(ctx context.Context, roomID, participantID string) error {
	return n.publish(ctx, n.Topic(roomID, participantID), []byte{})
}

func (n *MqttNotifier) publish(ctx context.Context, topic string, payload []byte) error {
	if !n.client.IsConnectionOpen() {
		return errors.New("mqtt client not connected")
	}
	token := n.client.Publish(topic, n.cfg.QoS, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (n *MqttNotifier) Close() {
	n.client.Disconnect(250)
}

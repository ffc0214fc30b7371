package mqtt_server

import (
	"bytes"
	"strings"

	"meeting-speaker-server-golang/internal/util"
	log "meeting-speaker-server-golang/logger"

	mqttServer "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// AuthHook 鉴权
// 超级管理员: mqtt_server.username / password，可发布
// 观察端: util.GenerateMqttCredentials 生成的签名凭据，只能订阅所属会议室
type AuthHook struct {
	mqttServer.HookBase
	cfg Config
}

func (h *AuthHook) ID() string {
	return "meeting-auth-hook"
}

func (h *AuthHook) Provides(b byte) bool {
	return b == mqttServer.OnConnectAuthenticate
}

func (h *AuthHook) OnConnectAuthenticate(cl *mqttServer.Client, pk packets.Packet) bool {
	if !h.cfg.EnableAuth {
		return true
	}

	username := string(pk.Connect.Username)
	password := string(pk.Connect.Password)
	clientId := string(pk.Connect.ClientIdentifier)

	if h.cfg.Username != "" && username == h.cfg.Username && password == h.cfg.Password {
		log.Infof("超级管理员登录成功: %s", clientId)
		return true
	}

	if h.cfg.SignatureKey == "" {
		log.Warnf("未配置签名密钥，拒绝观察端连接: %s", clientId)
		return false
	}
	info, err := util.ValidateMqttCredentials(clientId, username, password, h.cfg.SignatureKey)
	if err != nil {
		log.Warnf("MQTT凭据验证失败: %v", err)
		return false
	}
	log.Infof("MQTT观察端验证成功: group=%s, room=%s, uuid=%s", info.GroupId, info.RoomId, info.UUID)
	return true
}

// RoomHook 主题权限，观察端只读自己会议室
type RoomHook struct {
	mqttServer.HookBase
	cfg Config
}

func (h *RoomHook) ID() string {
	return "meeting-room-hook"
}

func (h *RoomHook) Provides(b byte) bool {
	return b == mqttServer.OnACLCheck
}

func (h *RoomHook) OnACLCheck(cl *mqttServer.Client, topic string, write bool) bool {
	if !h.cfg.EnableAuth || h.isAdmin(cl) {
		return true
	}
	if write {
		log.Warnf("禁止观察端 %s 发布到 %s", cl.ID, topic)
		return false
	}

	if !roomTopicAllowed(h.cfg.TopicPrefix, roomFromClientID(cl.ID), topic) {
		log.Warnf("禁止观察端 %s 订阅 %s", cl.ID, topic)
		return false
	}
	return true
}

// roomTopicAllowed 前缀后的第一段必须与会议室完全一致，通配符只能出现在会议室段之后
func roomTopicAllowed(prefix, roomID, topic string) bool {
	if util.ValidateIdentifier(roomID) != nil {
		return false
	}
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return false
	}
	segment, tail, ok := strings.Cut(rest, "/")
	return ok && tail != "" && segment == roomID
}

func (h *RoomHook) isAdmin(cl *mqttServer.Client) bool {
	return h.cfg.Username != "" && bytes.Equal(cl.Properties.Username, []byte(h.cfg.Username))
}

// roomFromClientID clientId 格式 {group}@@@{room}@@@{uuid}
func roomFromClientID(clientId string) string {
	parts := strings.Split(clientId, "@@@")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

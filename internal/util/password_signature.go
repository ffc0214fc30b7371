package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const clientIDSeparator = "@@@"

var ErrSignatureMismatch = errors.New("密码签名验证失败")

// GeneratePasswordSignature 基于 clientId + '|' + username 生成 HMAC-SHA256 签名
func GeneratePasswordSignature(data, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// MqttCredentials 订阅说话状态用的 MQTT 凭据
type MqttCredentials struct {
	ClientId string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MqttCredentialInfo 校验通过后从凭据中解析出的信息
type MqttCredentialInfo struct {
	GroupId string `json:"group_id"`
	RoomId  string `json:"room_id"`
	UUID    string `json:"uuid"`
}

type credentialUser struct {
	RoomId string `json:"room_id"`
}

// GenerateMqttCredentials 为会议室观察端生成凭据
// clientId 格式: {group}@@@{room}@@@{uuid}，username 为 base64 JSON
func GenerateMqttCredentials(groupId, roomId, signatureKey string) (*MqttCredentials, error) {
	if signatureKey == "" {
		return nil, errors.New("缺少签名密钥配置")
	}
	if err := ValidateIdentifier(roomId); err != nil {
		return nil, fmt.Errorf("invalid room id: %w", err)
	}

	userJson, err := json.Marshal(credentialUser{RoomId: roomId})
	if err != nil {
		return nil, fmt.Errorf("用户名序列化失败: %w", err)
	}
	username := base64.StdEncoding.EncodeToString(userJson)
	clientId := strings.Join([]string{groupId, roomId, uuid.NewString()}, clientIDSeparator)

	return &MqttCredentials{
		ClientId: clientId,
		Username: username,
		Password: GeneratePasswordSignature(clientId+"|"+username, signatureKey),
	}, nil
}

// ValidateMqttCredentials 校验凭据签名并解析出会议室
func ValidateMqttCredentials(clientId, username, password, signatureKey string) (*MqttCredentialInfo, error) {
	if signatureKey == "" {
		return nil, errors.New("缺少签名密钥配置")
	}

	parts := strings.Split(clientId, clientIDSeparator)
	if len(parts) != 3 {
		return nil, fmt.Errorf("clientId格式错误: %q", clientId)
	}

	decoded, err := base64.StdEncoding.DecodeString(username)
	if err != nil {
		return nil, fmt.Errorf("username不是有效的base64编码: %w", err)
	}
	var user credentialUser
	if err := json.Unmarshal(decoded, &user); err != nil {
		return nil, fmt.Errorf("username不是有效的JSON: %w", err)
	}
	if user.RoomId != parts[1] {
		return nil, fmt.Errorf("username与clientId中的会议室不一致")
	}
	if err := ValidateIdentifier(parts[1]); err != nil {
		return nil, fmt.Errorf("clientId中的会议室无效: %w", err)
	}

	expected := GeneratePasswordSignature(clientId+"|"+username, signatureKey)
	if !hmac.Equal([]byte(password), []byte(expected)) {
		return nil, ErrSignatureMismatch
	}

	return &MqttCredentialInfo{
		GroupId: parts[0],
		RoomId:  parts[1],
		UUID:    parts[2],
	}, nil
}

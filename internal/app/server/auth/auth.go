package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// AuthManager 静态令牌鉴权
type AuthManager struct {
	mutex sync.RWMutex
	// token -> 名称
	tokens map[string]string
}

var authManager *AuthManager

// Init 从 auth.tokens 读取令牌列表
// viper 会把 map 的键转成小写，所以令牌用列表配置
func Init() error {
	authManager = NewAuthManager()
	for i, token := range viper.GetStringSlice("auth.tokens") {
		authManager.RegisterToken(token, fmt.Sprintf("token-%d", i))
	}
	return nil
}

func A() *AuthManager {
	if authManager == nil {
		Init()
	}
	return authManager
}

func NewAuthManager() *AuthManager {
	return &AuthManager{
		tokens: make(map[string]string),
	}
}

func trimBearer(token string) string {
	return strings.TrimPrefix(token, "Bearer ")
}

// ValidateToken 验证令牌，支持 "Bearer " 前缀
func (am *AuthManager) ValidateToken(token string) bool {
	token = trimBearer(token)
	if token == "" {
		return false
	}

	am.mutex.RLock()
	_, exists := am.tokens[token]
	am.mutex.RUnlock()

	return exists
}

// RegisterToken 注册令牌
func (am *AuthManager) RegisterToken(token string, name string) {
	am.mutex.Lock()
	am.tokens[trimBearer(token)] = name
	am.mutex.Unlock()
}

// RemoveToken 移除令牌
func (am *AuthManager) RemoveToken(token string) {
	am.mutex.Lock()
	delete(am.tokens, trimBearer(token))
	am.mutex.Unlock()
}

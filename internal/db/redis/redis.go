package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	log "meeting-speaker-server-golang/logger"
)

var (
	globalClient *redis.Client
	mu           sync.RWMutex
)

// Config Redis配置
type Config struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
	// KeyPrefix 所有键的前缀，为空时不加
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`

	PoolSize     int           `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
	}
}

// ConfigFromViper 读取 redis.* 配置
func ConfigFromViper() *Config {
	config := DefaultConfig()
	if err := viper.UnmarshalKey("redis", config); err != nil {
		log.Warnf("解析redis配置失败，使用默认值: %v", err)
		return DefaultConfig()
	}
	return config
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient 创建客户端并测试连接
func NewClient(ctx context.Context, config *Config) (*redis.Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", config.Addr(), err)
	}
	return client, nil
}

// Init 初始化全局客户端，重复调用会替换旧客户端
func Init(config *Config) error {
	client, err := NewClient(context.Background(), config)
	if err != nil {
		return err
	}

	mu.Lock()
	old := globalClient
	globalClient = client
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Infof("Redis客户端初始化成功: %s", config.Addr())
	return nil
}

// GetClient 获取全局客户端，未初始化时返回 nil
func GetClient() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	return globalClient
}

// IsHealthy 检查连接健康状态
func IsHealthy(ctx context.Context) bool {
	client := GetClient()
	if client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

// Close 关闭全局客户端
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if globalClient == nil {
		return nil
	}
	err := globalClient.Close()
	globalClient = nil
	if err != nil {
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}
	log.Info("Redis连接已关闭")
	return nil
}

// GetKeyWithPrefix 获取带前缀的键名
func GetKeyWithPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// LogStats 记录连接池统计信息
func LogStats() {
	client := GetClient()
	if client == nil {
		return
	}
	stats := client.PoolStats()
	log.Infof("Redis连接池统计 - 总连接: %d, 空闲连接: %d, 过期连接: %d, 命中: %d, 未命中: %d, 超时: %d",
		stats.TotalConns, stats.IdleConns, stats.StaleConns, stats.Hits, stats.Misses, stats.Timeouts)
}

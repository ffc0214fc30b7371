package speech

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultOnThreshold  = 0.03
	DefaultOffThreshold = 0.015
	DefaultHoldDuration = 200 * time.Millisecond
	DefaultWindowSize   = 2048
	// DefaultTickInterval 非 UI 环境下的分析节拍，约等于一帧刷新
	DefaultTickInterval = 16 * time.Millisecond
)

// Config 检测器参数
type Config struct {
	// OnThreshold 电平 >= 该值视为说话候选
	OnThreshold float64 `mapstructure:"on_threshold" json:"on_threshold"`
	// OffThreshold 电平 <= 该值视为静音候选，必须低于 OnThreshold
	OffThreshold float64 `mapstructure:"off_threshold" json:"off_threshold"`
	// HoldDuration 电平持续越过阈值多久才翻转状态
	HoldDuration time.Duration `mapstructure:"-" json:"hold_duration"`
	// WindowSize 每次分析的采样数，2 的幂
	WindowSize int `mapstructure:"window_size" json:"window_size"`
	// TickInterval TickerScheduler 的节拍
	TickInterval time.Duration `mapstructure:"-" json:"tick_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OnThreshold:  DefaultOnThreshold,
		OffThreshold: DefaultOffThreshold,
		HoldDuration: DefaultHoldDuration,
		WindowSize:   DefaultWindowSize,
		TickInterval: DefaultTickInterval,
	}
}

// ConfigFromViper 读取 speech.* 配置，未配置的项使用默认值
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if viper.IsSet("speech.on_threshold") {
		cfg.OnThreshold = viper.GetFloat64("speech.on_threshold")
	}
	if viper.IsSet("speech.off_threshold") {
		cfg.OffThreshold = viper.GetFloat64("speech.off_threshold")
	}
	if viper.IsSet("speech.hold_ms") {
		cfg.HoldDuration = time.Duration(viper.GetInt64("speech.hold_ms")) * time.Millisecond
	}
	if viper.IsSet("speech.window_size") {
		cfg.WindowSize = viper.GetInt("speech.window_size")
	}
	if viper.IsSet("speech.tick_ms") {
		cfg.TickInterval = time.Duration(viper.GetInt64("speech.tick_ms")) * time.Millisecond
	}
	return cfg
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.OffThreshold <= 0 {
		return fmt.Errorf("off threshold must be positive, got %f", c.OffThreshold)
	}
	if c.OffThreshold >= c.OnThreshold {
		return fmt.Errorf("off threshold %f must be lower than on threshold %f", c.OffThreshold, c.OnThreshold)
	}
	if c.HoldDuration < 0 {
		return fmt.Errorf("hold duration cannot be negative, got %v", c.HoldDuration)
	}
	if c.WindowSize <= 0 || c.WindowSize&(c.WindowSize-1) != 0 {
		return fmt.Errorf("window size must be a power of two, got %d", c.WindowSize)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	return nil
}

package webrtc_vad

import (
	"meeting-speaker-server-golang/internal/util"
)

// 配置来自 viper 时数字可能是 int 或 float64
func intFromMap(config map[string]interface{}, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func poolConfigFromMap(config map[string]interface{}) *util.PoolConfig {
	_, hasMin := config["pool_min_size"]
	_, hasMax := config["pool_max_size"]
	_, hasIdle := config["pool_max_idle"]
	if !hasMin && !hasMax && !hasIdle {
		return nil
	}

	poolConfig := util.DefaultPoolConfig()
	if v, ok := intFromMap(config, "pool_min_size"); ok {
		poolConfig.MinSize = v
	}
	if v, ok := intFromMap(config, "pool_max_size"); ok {
		poolConfig.MaxSize = v
	}
	if v, ok := intFromMap(config, "pool_max_idle"); ok {
		poolConfig.MaxIdle = v
	}
	return &poolConfig
}

func configFromMap(config map[string]interface{}) Config {
	c := Config{
		SampleRate: DefaultSampleRate,
		Mode:       DefaultMode,
	}
	if v, ok := intFromMap(config, "vad_sample_rate"); ok {
		c.SampleRate = v
	}
	if v, ok := intFromMap(config, "vad_mode"); ok {
		c.Mode = v
	}
	return c
}

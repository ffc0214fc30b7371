package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"meeting-speaker-server-golang/internal/app/server/auth"
	redisdb "meeting-speaker-server-golang/internal/db/redis"
	log "meeting-speaker-server-golang/logger"
)

func Init(configFile string) error {
	if err := initConfig(configFile); err != nil {
		return fmt.Errorf("initConfig err: %w", err)
	}

	if err := initLog(); err != nil {
		return fmt.Errorf("initLog err: %w", err)
	}

	if viper.GetBool("redis.enable") {
		if err := initRedis(); err != nil {
			// redis 只服务于通知器，失败时降级运行
			log.Errorf("init redis error: %v", err)
		}
	}

	if err := auth.Init(); err != nil {
		return fmt.Errorf("initAuthManager err: %w", err)
	}
	return nil
}

func initConfig(configFile string) error {
	basePath, file := filepath.Split(configFile)

	// 获取文件名和扩展名
	fileName, fileExt := func(file string) (string, string) {
		if pos := strings.LastIndex(file, "."); pos != -1 {
			return file[:pos], strings.ToLower(file[pos+1:])
		}
		return file, ""
	}(file)

	viper.SetConfigName(fileName)
	viper.AddConfigPath(basePath)

	switch fileExt {
	case "json":
		viper.SetConfigType("json")
	case "yaml", "yml":
		viper.SetConfigType("yaml")
	default:
		return fmt.Errorf("unsupported config file type: %s", fileExt)
	}

	// 环境变量覆盖，例如 SPEECH_ON_THRESHOLD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return viper.ReadInConfig()
}

func initLog() error {
	return log.InitFile(log.FileConfig{
		Dir:      viper.GetString("log.path"),
		File:     viper.GetString("log.file"),
		Level:    viper.GetString("log.level"),
		MaxCount: uint(viper.GetInt("log.max_age")),
		Stdout:   viper.GetBool("log.stdout"),
	})
}

func initRedis() error {
	return redisdb.Init(redisdb.ConfigFromViper())
}

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"meeting-speaker-server-golang/internal/app/mqtt_server"
	log "meeting-speaker-server-golang/logger"
)

// 独立部署的说话状态 broker，与服务端共用 mqtt_server.* 配置
func main() {
	configFile := flag.String("c", "config/config.json", "配置文件路径")
	flag.Parse()

	if err := initConfig(*configFile); err != nil {
		fmt.Printf("读取配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := log.InitFile(log.FileConfig{
		Dir:      viper.GetString("log.path"),
		File:     "mqtt_" + viper.GetString("log.file"),
		Level:    viper.GetString("log.level"),
		MaxCount: uint(viper.GetInt("log.max_age")),
		Stdout:   viper.GetBool("log.stdout"),
	}); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	srv, err := mqtt_server.New(mqtt_server.ConfigFromViper())
	if err != nil {
		log.Fatalf("创建MQTT服务器失败: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("启动MQTT服务器失败: %v", err)
	}

	// 阻塞监听退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info("MQTT服务器已启动，按 Ctrl+C 退出")
	<-quit

	log.Info("正在关闭MQTT服务器...")
	if err := srv.Close(); err != nil {
		log.Errorf("关闭MQTT服务器失败: %v", err)
	}
	log.Info("MQTT服务器已关闭")
}

func initConfig(configFile string) error {
	basePath, file := filepath.Split(configFile)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file), "."))

	viper.SetConfigName(strings.TrimSuffix(file, filepath.Ext(file)))
	viper.AddConfigPath(basePath)
	switch ext {
	case "json":
		viper.SetConfigType("json")
	case "yaml", "yml":
		viper.SetConfigType("yaml")
	default:
		return fmt.Errorf("unsupported config file type: %s", ext)
	}
	return viper.ReadInConfig()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"meeting-speaker-server-golang/internal/app/server"
	redisdb "meeting-speaker-server-golang/internal/db/redis"
	log "meeting-speaker-server-golang/logger"
)

func main() {
	// 解析命令行参数
	configFile := flag.String("c", "config/config.json", "配置文件路径")
	flag.Parse()

	if *configFile == "" {
		fmt.Println("配置文件路径不能为空")
		os.Exit(1)
	}

	if err := Init(*configFile); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	// 根据配置启动pprof服务
	if viper.GetBool("server.pprof.enable") {
		pprofPort := viper.GetInt("server.pprof.port")
		go func() {
			log.Infof("启动pprof服务，端口: %d", pprofPort)
			if err := http.ListenAndServe(fmt.Sprintf(":%d", pprofPort), nil); err != nil {
				log.Errorf("pprof服务启动失败: %v", err)
			}
		}()
	} else {
		log.Info("pprof服务已禁用")
	}

	appInstance, err := server.NewApp()
	if err != nil {
		log.Fatalf("创建服务失败: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- appInstance.Run()
	}()

	// 阻塞监听退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info("服务器已启动，按 Ctrl+C 退出")
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			log.Errorf("服务异常退出: %v", err)
		}
	}

	log.Info("正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appInstance.Shutdown(ctx)
	redisdb.LogStats()
	if err := redisdb.Close(); err != nil {
		log.Errorf("关闭redis失败: %v", err)
	}
	log.Info("服务器已关闭")
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"meeting-speaker-server-golang/internal/app/analyze"
	"meeting-speaker-server-golang/internal/domain/speech"
	log "meeting-speaker-server-golang/logger"
)

func main() {
	configFile := flag.String("c", "", "配置文件路径，读取其中的 speech.* 参数")
	onThreshold := flag.Float64("on", 0, "说话阈值，覆盖配置")
	offThreshold := flag.Float64("off", 0, "静音阈值，覆盖配置")
	holdMs := flag.Int("hold", -1, "保持时间(ms)，覆盖配置")
	meterType := flag.String("meter", "", "电平计类型: rms / webrtc_vad")
	sampleRate := flag.Int("rate", analyze.DefaultSampleRate, "回放采样率")
	workers := flag.Int("workers", runtime.NumCPU(), "并行数")
	asJSON := flag.Bool("json", false, "以 JSON 输出")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: %s [选项] file1.wav [file2.wav ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log.UseStdout()
	zapLogger, _ := zap.NewDevelopment()
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("读取配置失败: %v", err)
		}
	}

	opts := analyze.DefaultOptions()
	opts.Speech = speech.ConfigFromViper()
	opts.Meter = viper.GetString("speech.meter")
	opts.MeterConfig = viper.GetStringMap("speech.webrtc_vad")
	opts.SampleRate = *sampleRate
	if *onThreshold > 0 {
		opts.Speech.OnThreshold = *onThreshold
	}
	if *offThreshold > 0 {
		opts.Speech.OffThreshold = *offThreshold
	}
	if *holdMs >= 0 {
		opts.Speech.HoldDuration = time.Duration(*holdMs) * time.Millisecond
	}
	if *meterType != "" {
		opts.Meter = *meterType
	}
	if err := opts.Speech.Validate(); err != nil {
		log.Fatalf("参数错误: %v", err)
	}

	results := analyze.Files(context.Background(), flag.Args(), opts, *workers)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("输出失败: %v", err)
		}
		return
	}

	failed := false
	for _, r := range results {
		if r.Error != "" {
			failed = true
			fmt.Printf("%s: 错误: %s\n", r.File, r.Error)
			continue
		}
		fmt.Printf("%s: 时长 %v, 说话 %v, %d 段\n", r.File, r.Duration, r.SpeakingTime(), len(r.Segments))
		for i, s := range r.Segments {
			fmt.Printf("  #%d %8v - %8v  peak=%.4f\n", i+1, s.Start, s.End, s.Peak)
		}
	}
	if failed {
		os.Exit(1)
	}
}

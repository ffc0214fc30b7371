package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// FileConfig 文件日志配置
type FileConfig struct {
	Dir      string // 日志目录，相对路径基于可执行文件目录
	File     string // 日志文件名
	Level    string // 日志级别
	MaxCount uint   // 保留的轮转文件个数
	Stdout   bool   // 是否同时输出到标准输出
}

func init() {
	log.SetFormatter(Formatter(false))
}

// SetLevel 设置日志级别
func SetLevel(level log.Level) {
	log.SetLevel(level)
}

// UseStdout 使用标准输出
func UseStdout() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(Formatter(true))
}

// InitFile 按天轮转日志文件，可选同时输出到标准输出
func InitFile(cfg FileConfig) error {
	dir := cfg.Dir
	if !filepath.IsAbs(dir) {
		binPath, _ := os.Executable()
		dir = filepath.Join(filepath.Dir(binPath), dir)
	}
	logPath := filepath.Join(dir, cfg.File)

	if cfg.MaxCount == 0 {
		cfg.MaxCount = 7
	}
	writer, err := rotatelogs.New(
		logPath+".%Y%m%d",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithRotationCount(cfg.MaxCount),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("create rotate log writer: %w", err)
	}

	if cfg.Stdout {
		log.SetOutput(io.MultiWriter(writer, os.Stdout))
		log.SetFormatter(Formatter(true))
	} else {
		log.SetOutput(writer)
		log.SetFormatter(Formatter(false))
	}

	// caller 字段由本包注入
	log.SetReportCaller(false)
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	return nil
}

// getCaller 跳过 logger 包装层，取真实调用位置
// 调用链: 用户代码 -> logger.Info -> addCallerField -> getCaller
func getCaller() (string, int) {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown", 0
	}
	return filepath.Base(file), line
}

func addCallerField() *log.Entry {
	file, line := getCaller()
	return log.WithField("caller", fmt.Sprintf("%s:%d", file, line))
}

func Info(args ...interface{}) {
	addCallerField().Info(args...)
}

func Error(args ...interface{}) {
	addCallerField().Error(args...)
}

func Debug(args ...interface{}) {
	addCallerField().Debug(args...)
}

func Warn(args ...interface{}) {
	addCallerField().Warn(args...)
}

func Fatal(args ...interface{}) {
	addCallerField().Fatal(args...)
}

func Infof(format string, args ...interface{}) {
	addCallerField().Infof(format, args...)
}

func Errorf(format string, args ...interface{}) {
	addCallerField().Errorf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	addCallerField().Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	addCallerField().Warnf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	addCallerField().Fatalf(format, args...)
}

// Log 以 key, value 成对的参数构造带字段的日志条目
func Log(args ...interface{}) *log.Entry {
	fields := log.Fields{}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(args) {
			fields[key] = args[i+1]
		} else {
			fields[key] = ""
		}
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}
	fields["caller"] = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	return log.WithFields(fields)
}

func Formatter(isConsole bool) *nested.Formatter {
	return &nested.Formatter{
		FieldsOrder:      []string{"time", "level", "caller", "room", "participant", "msg"},
		HideKeys:         true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		CallerFirst:      true,
		NoUppercaseLevel: true,
		ShowFullLevel:    true,
		NoColors:         !isConsole,
		// caller 字段已自定义，屏蔽默认格式
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return ""
		},
	}
}

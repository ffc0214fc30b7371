package speech

import "errors"

var (
	// ErrAnalyserUnavailable 音频源不具备分析能力
	ErrAnalyserUnavailable = errors.New("audio analyser unavailable")
	// ErrSourceClosed 音频源已移除
	ErrSourceClosed = errors.New("audio source closed")
)

// Source 外部持有的实时音频输入，检测器激活期间借用
type Source interface {
	// Analyser 创建一个能读取最近 windowSize 个采样的分析节点
	Analyser(windowSize int) (Analyser, error)
}

// Analyser 音频分析节点
type Analyser interface {
	// CopyTimeDomain 把最近 len(dst) 个时域采样复制到 dst
	// 源被移除后返回 ErrSourceClosed
	CopyTimeDomain(dst []float32) error
	// Close 释放分析资源
	Close() error
}

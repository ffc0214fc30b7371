package inter

// LevelMeter 把一个分析窗口换算为响度电平
type LevelMeter interface {
	// Level 计算窗口电平，调用方复用 window，实现不得持有它
	Level(window []float32) (float64, error)
	// Reset 重置内部状态
	Reset() error
	// Close 关闭并释放资源
	Close() error
}

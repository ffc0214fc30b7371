package rms

import "math"

// Compute 计算均方根电平 sqrt(mean(x^2))，空窗口返回 0
func Compute(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Meter 默认电平计，无状态
type Meter struct{}

func New() *Meter {
	return &Meter{}
}

func (m *Meter) Level(window []float32) (float64, error) {
	return Compute(window), nil
}

func (m *Meter) Reset() error {
	return nil
}

func (m *Meter) Close() error {
	return nil
}

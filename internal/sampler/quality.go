package sampler

import (
	"math"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/ringbuf"
)

// QualityMeter 根据最近窗口内滤波信号的峰峰值估算信号质量（0-100）
type QualityMeter struct {
	tuning config.SamplerTuning
	window *ringbuf.Ring[float64]
}

// NewQualityMeter 创建质量评估器
func NewQualityMeter(tuning config.SamplerTuning) *QualityMeter {
	return &QualityMeter{
		tuning: tuning,
		window: ringbuf.New[float64](tuning.QualityWindow),
	}
}

// Push 追加一个滤波值并返回当前质量
func (q *QualityMeter) Push(filtered float64) int {
	if math.IsNaN(filtered) || math.IsInf(filtered, 0) {
		filtered = 0
	}
	q.window.Push(filtered)
	return q.Quality()
}

// Quality 当前质量；窗口不足一半时为 0
func (q *QualityMeter) Quality() int {
	if q.window.Len() < q.window.Cap()/2 || q.window.Len() < 2 {
		return 0
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range q.window.Values() {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	amplitude := hi - lo
	if amplitude <= q.tuning.MinAmplitude {
		return 0
	}
	if amplitude >= q.tuning.GoodAmplitude {
		return 100
	}
	span := q.tuning.GoodAmplitude - q.tuning.MinAmplitude
	if span <= 0 {
		return 100
	}
	return int(math.Round(100 * (amplitude - q.tuning.MinAmplitude) / span))
}

// Reset 清空窗口
func (q *QualityMeter) Reset() {
	q.window.Reset()
}

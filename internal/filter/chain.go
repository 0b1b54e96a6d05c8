package filter

import (
	"math"
	"sort"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/ringbuf"
)

// Chain 自适应滤波链：中值 → 滑动平均 → EMA → 基线去除
// 每个会话一个实例，非并发安全
type Chain struct {
	tuning config.FilterTuning

	raw     *ringbuf.Ring[float64] // 中值窗口
	medians *ringbuf.Ring[float64] // 滑动平均窗口

	ema      float64
	baseline float64
	primed   bool

	lastValid float64
	scratch   []float64
}

// NewChain 创建滤波链
func NewChain(tuning config.FilterTuning) *Chain {
	return &Chain{
		tuning:  tuning,
		raw:     ringbuf.New[float64](tuning.MedianWindow),
		medians: ringbuf.New[float64](tuning.MovingAverageWindow),
		scratch: make([]float64, 0, tuning.MedianWindow),
	}
}

// Process 处理一个原始样本，返回去基线后的滤波值（总是有限值）
func (c *Chain) Process(raw float64, fingerDetected bool) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = c.lastValid
	} else {
		c.lastValid = raw
	}

	c.raw.Push(raw)
	c.medians.Push(c.median())
	smoothed := c.movingAverage()

	if !c.primed {
		c.ema = smoothed
		c.baseline = smoothed
		c.primed = true
	} else {
		c.ema += c.tuning.EMAAlpha * (smoothed - c.ema)

		decay := c.tuning.BaselineDecay
		if !fingerDetected {
			decay = c.tuning.BaselineDecayNoFinger
		}
		c.baseline = decay*c.baseline + (1-decay)*c.ema
	}

	out := (c.ema - c.baseline) * c.tuning.VerticalScale
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}

// smoothed 当前 EMA 平滑值
func (c *Chain) smoothed() float64 { return c.ema }

// baselineLevel 当前基线
func (c *Chain) baselineLevel() float64 { return c.baseline }

// Reset 清空所有缓冲和累加器
func (c *Chain) Reset() {
	c.raw.Reset()
	c.medians.Reset()
	c.ema = 0
	c.baseline = 0
	c.primed = false
	c.lastValid = 0
}

func (c *Chain) median() float64 {
	c.scratch = append(c.scratch[:0], c.raw.Values()...)
	sort.Float64s(c.scratch)
	n := len(c.scratch)
	if n%2 == 1 {
		return c.scratch[n/2]
	}
	return (c.scratch[n/2-1] + c.scratch[n/2]) / 2
}

func (c *Chain) movingAverage() float64 {
	n := c.medians.Len()
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += c.medians.At(i)
	}
	return sum / float64(n)
}

package arrhythmia

import (
	"fmt"
	"math"
	"sort"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/ringbuf"

	"gonum.org/v1/gonum/stat"
)

// 状态标记前缀
const (
	StatusLearning = "LEARNING"
	StatusNone     = "NONE"
	StatusDetected = "DETECTED"
)

// Result 一次分析的输出
type Result struct {
	models.ArrhythmiaClassification
	IsLearningPhase bool   `json:"is_learning_phase"`
	Rule            string `json:"rule,omitempty"`
	Counted         bool   `json:"counted"` // 本次是否计数
	Count           int    `json:"count"`
	Status          string `json:"status"`
}

// Analyzer 基于 RR 间期和心跳幅度的心律失常分析器
// 每个新确认的心跳调用一次 Analyze，非并发安全
type Analyzer struct {
	tuning config.ArrhythmiaTuning
	rules  []rule

	baseline      models.BaselineState
	baselineReady bool
	rrWindow      *ringbuf.Ring[float64]
	ampWindow     *ringbuf.Ring[float64]

	started bool

	consecutiveNormal int

	count           int
	hasCounted      bool
	lastCountedTime int64
	lastCountedSeq  int64
	seq             int64 // 心跳序号，每次 Analyze 加一

	history *ringbuf.Ring[models.ArrhythmiaClassification]
	latest  Result
}

// NewAnalyzer 创建分析器
func NewAnalyzer(tuning config.ArrhythmiaTuning) *Analyzer {
	return &Analyzer{
		tuning:    tuning,
		rules:     newRules(tuning),
		rrWindow:  ringbuf.New[float64](tuning.BaselineWindow),
		ampWindow: ringbuf.New[float64](tuning.BaselineWindow),
		history:   ringbuf.New[models.ArrhythmiaClassification](tuning.HistorySize),
	}
}

// Analyze 分析一批最近的 RR 间期，最后一个元素对应当前心跳
// amplitudes 缺失或长度不匹配时按 100/interval 合成
func (a *Analyzer) Analyze(rr, amplitudes []float64, now int64) Result {
	if !a.started {
		a.started = true
		a.baseline.LearningStartTime = now
		a.baseline.LearningPhaseActive = true
	}

	rr, amplitudes = sanitize(rr, amplitudes)
	learning := now-a.baseline.LearningStartTime < a.tuning.LearningPeriodMs

	result := Result{Count: a.count}
	if len(rr) == 0 {
		result.IsLearningPhase = learning || !a.baselineReady
		result.Status = a.status(result.IsLearningPhase, now)
		a.latest = result
		return result
	}

	a.seq++
	cur := rr[len(rr)-1]
	curAmp := amplitudes[len(amplitudes)-1]

	result.RMSSD = RMSSD(rr)

	if learning || !a.baselineReady {
		a.pushBaseline(cur, curAmp)
		result.RRVariation = a.variation(cur)
		result.IsLearningPhase = true
		result.Status = a.status(true, now)
		a.latest = result
		return result
	}
	a.baseline.LearningPhaseActive = false
	result.RRVariation = a.variation(cur)

	ctx := &beatContext{
		rr:                rr,
		amplitudes:        amplitudes,
		baselineRR:        a.baseline.BaselineRRInterval,
		baselineAmp:       a.baseline.BaselineAmplitude,
		consecutiveNormal: a.consecutiveNormal,
	}

	matched, ok := evaluate(a.rules, ctx)
	if ok {
		result.IsPremature = true
		result.Confidence = matched.confidence
		result.Rule = matched.name

		prematureSeq := a.seq
		if matched.flagsPrevious {
			prematureSeq = a.seq - 1
		}
		if a.shouldCount(matched.confidence, now, prematureSeq) {
			a.count++
			a.hasCounted = true
			a.lastCountedTime = now
			a.lastCountedSeq = prematureSeq
			result.Counted = true
		}
	} else {
		if ctx.deviation(cur) <= a.tuning.NormalTolerance &&
			curAmp >= a.tuning.NormalAmplitudeFactor*a.baseline.BaselineAmplitude {
			a.consecutiveNormal++
		}
		a.pushBaseline(cur, curAmp)
	}

	result.Count = a.count
	result.Status = a.status(false, now)
	a.history.Push(result.ArrhythmiaClassification)
	a.latest = result
	return result
}

// Latest 最近一次分析结果
func (a *Analyzer) Latest() Result { return a.latest }

// Count 已计数的心律失常次数（单调不减，不超过上限）
func (a *Analyzer) Count() int { return a.count }

// Baseline 当前基线
func (a *Analyzer) Baseline() models.BaselineState { return a.baseline }

// Trend 最近分类结果中早搏的比例
func (a *Analyzer) Trend() float64 {
	n := a.history.Len()
	if n == 0 {
		return 0
	}
	premature := 0
	for _, c := range a.history.Values() {
		if c.IsPremature {
			premature++
		}
	}
	return float64(premature) / float64(n)
}

// Reset 清空历史、计数和基线，重新进入学习期
func (a *Analyzer) Reset() {
	a.baseline = models.BaselineState{}
	a.baselineReady = false
	a.rrWindow.Reset()
	a.ampWindow.Reset()
	a.started = false
	a.consecutiveNormal = 0
	a.count = 0
	a.hasCounted = false
	a.lastCountedTime = 0
	a.lastCountedSeq = 0
	a.seq = 0
	a.history.Reset()
	a.latest = Result{}
}

func (a *Analyzer) shouldCount(confidence float64, now, prematureSeq int64) bool {
	if confidence < a.tuning.MinConfidence {
		return false
	}
	if a.count >= a.tuning.MaxCount {
		return false
	}
	if !a.hasCounted {
		return true
	}
	if now-a.lastCountedTime < a.tuning.MinTimeBetweenMs {
		return false
	}
	return prematureSeq != a.lastCountedSeq
}

func (a *Analyzer) pushBaseline(rr, amp float64) {
	a.rrWindow.Push(rr)
	a.ampWindow.Push(amp)
	if a.rrWindow.Len() < a.tuning.MinBaselineSamples {
		return
	}
	a.baseline.BaselineRRInterval = trimmedMedian(a.rrWindow.Values(), a.tuning.BaselineTrimFraction)
	a.baseline.BaselineAmplitude = trimmedMedian(a.ampWindow.Values(), a.tuning.BaselineTrimFraction)
	a.baselineReady = a.baseline.BaselineRRInterval > 0
}

func (a *Analyzer) variation(rr float64) float64 {
	if a.baseline.BaselineRRInterval <= 0 {
		return 0
	}
	return math.Abs(rr-a.baseline.BaselineRRInterval) / a.baseline.BaselineRRInterval
}

func (a *Analyzer) status(learning bool, now int64) string {
	if learning {
		remaining := a.tuning.LearningPeriodMs - (now - a.baseline.LearningStartTime)
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("%s|%d", StatusLearning, int(math.Ceil(float64(remaining)/1000)))
	}
	if a.count > 0 {
		return fmt.Sprintf("%s|%d", StatusDetected, a.count)
	}
	return fmt.Sprintf("%s|%d", StatusNone, a.count)
}

// sanitize 丢弃无效间期；幅度缺失或不匹配时按 100/interval 合成
func sanitize(rr, amplitudes []float64) ([]float64, []float64) {
	synth := len(amplitudes) != len(rr)
	outRR := make([]float64, 0, len(rr))
	outAmp := make([]float64, 0, len(rr))
	for i, interval := range rr {
		if !models.ValidRRInterval(interval) {
			continue
		}
		amp := 100 / interval
		if !synth && !math.IsNaN(amplitudes[i]) && !math.IsInf(amplitudes[i], 0) {
			amp = amplitudes[i]
		}
		outRR = append(outRR, interval)
		outAmp = append(outAmp, amp)
	}
	return outRR, outAmp
}

// RMSSD 相邻 RR 间期差值的均方根；不足两个间期返回 0
func RMSSD(rr []float64) float64 {
	if len(rr) < 2 {
		return 0
	}
	squares := make([]float64, len(rr)-1)
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		squares[i-1] = d * d
	}
	return math.Sqrt(stat.Mean(squares, nil))
}

// trimmedMedian 排序后两端各去掉 trim 比例，取剩余部分的中位数
func trimmedMedian(values []float64, trim float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := int(float64(len(sorted)) * trim)
	middle := sorted[k : len(sorted)-k]
	if len(middle) == 0 {
		middle = sorted
	}
	return stat.Quantile(0.5, stat.Empirical, middle, nil)
}

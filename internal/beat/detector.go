package beat

import (
	"math"
	"sort"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/ringbuf"

	"gonum.org/v1/gonum/stat"
)

// State 检测器状态
type State string

const (
	StateWarmup     State = "WARMUP"
	StateSearching  State = "SEARCHING"
	StateRefractory State = "REFRACTORY"
)

// Result 每个样本的检测结果
type Result struct {
	BPM           int               `json:"bpm"`
	Confidence    float64           `json:"confidence"`
	IsPeak        bool              `json:"is_peak"`
	FilteredValue float64           `json:"filtered_value"`
	Beat          *models.BeatEvent `json:"beat,omitempty"` // 仅 IsPeak 时非空
}

// Detector 心跳检测状态机（WARMUP → SEARCHING ⇄ REFRACTORY）
// 每个会话一个实例，非并发安全
type Detector struct {
	tuning config.BeatTuning

	values *ringbuf.Ring[float64]

	started   bool
	startTime int64
	lastTime  int64
	lastValue float64

	baseline     float64
	baselineInit bool

	hasPeak      bool
	lastPeakTime int64

	bpmHistory *ringbuf.Ring[float64] // 平滑 BPM 用
	sessionBPM *ringbuf.Ring[float64] // FinalBPM 用
	intervals  *ringbuf.Ring[float64] // 最近峰间期，预测下一个峰
	beats      *ringbuf.Ring[models.BeatEvent]

	templates *templateBank

	lastBPM        int
	lastConfidence float64
}

// NewDetector 创建检测器
func NewDetector(tuning config.BeatTuning) *Detector {
	return &Detector{
		tuning:     tuning,
		values:     ringbuf.New[float64](tuning.WindowSize),
		bpmHistory: ringbuf.New[float64](tuning.BPMHistorySize),
		sessionBPM: ringbuf.New[float64](tuning.SessionHistorySize),
		intervals:  ringbuf.New[float64](tuning.PeakHistorySize),
		beats:      ringbuf.New[models.BeatEvent](tuning.PeakHistorySize),
		templates:  newTemplateBank(tuning.MaxTemplates, tuning.TemplateSimilarity, tuning.TemplateBlend),
	}
}

// Process 处理一个滤波后的样本
func (d *Detector) Process(value float64, ts int64) Result {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = d.lastValue
	}
	d.lastValue = value

	if !d.started {
		d.started = true
		d.startTime = ts
	}
	d.lastTime = ts

	d.values.Push(value)
	if !d.baselineInit {
		d.baseline = value
		d.baselineInit = true
	} else {
		d.baseline += d.tuning.BaselineAlpha * (value - d.baseline)
	}

	result := Result{BPM: d.lastBPM, Confidence: d.lastConfidence, FilteredValue: value}

	n := d.values.Len()
	if n < 3 {
		return result
	}

	window := d.values.Values()
	mean, lo, hi := summarize(window)
	halfRange := (hi - lo) / 2
	if halfRange < 1e-9 {
		return result
	}

	norm := (value - mean) / halfRange
	prev := (window[n-3] - mean) / halfRange
	derivative := (norm - prev) / 2

	if derivative >= d.tuning.DerivativeThreshold ||
		norm <= d.tuning.AmplitudeThreshold ||
		value <= d.tuning.BaselineFactor*d.baseline {
		return result
	}

	confidence := d.confidence(norm, derivative)
	if confidence < d.tuning.MinConfidence {
		return result
	}

	elapsed := ts - d.lastPeakTime
	if d.hasPeak && elapsed < d.tuning.MinPeakIntervalMs {
		return result
	}

	shape := normalizeShape(lastN(window, d.tuning.TemplateLength))
	if !d.templateAccepts(shape, elapsed) {
		return result
	}
	d.templates.learn(shape)

	warmup := d.inWarmup(ts)
	if d.hasPeak {
		interval := float64(elapsed)
		d.intervals.Push(interval)
		if !warmup {
			d.pushBPM(60000 / interval)
		}
	}
	d.hasPeak = true
	d.lastPeakTime = ts

	beat := models.BeatEvent{
		Time:            ts,
		Amplitude:       apex(window, d.tuning.TemplateLength/2) - lo,
		Confidence:      confidence,
		IsConfirmedPeak: true,
	}
	d.beats.Push(beat)

	if warmup {
		return result
	}

	d.lastConfidence = confidence
	d.lastBPM = d.smoothedBPM()

	result.BPM = d.lastBPM
	result.Confidence = confidence
	result.IsPeak = true
	result.Beat = &beat
	return result
}

// State 当前状态
func (d *Detector) State() State {
	if !d.started || d.inWarmup(d.lastTime) {
		return StateWarmup
	}
	if d.hasPeak && d.lastTime-d.lastPeakTime < d.tuning.MinPeakIntervalMs {
		return StateRefractory
	}
	return StateSearching
}

// BPM 当前平滑 BPM（0 表示尚无结果）
func (d *Detector) BPM() int { return d.lastBPM }

// Confidence 最近一个确认峰的置信度
func (d *Detector) Confidence() float64 { return d.lastConfidence }

// RecentBeats 最近确认的心跳（含预热期内学习到的），从旧到新
func (d *Detector) RecentBeats() []models.BeatEvent { return d.beats.Values() }

// BeatCount 本会话计入 BPM 的心跳数
func (d *Detector) BeatCount() int { return d.sessionBPM.Len() }

// FinalBPM 会话结束时的 BPM：两端各去掉 10% 后取平均；不足 5 条记录返回 0
func (d *Detector) FinalBPM() int {
	if d.sessionBPM.Len() < 5 {
		return 0
	}
	values := d.sessionBPM.Values()
	sort.Float64s(values)
	trim := len(values) / 10
	kept := values[trim : len(values)-trim]
	return int(math.Round(stat.Mean(kept, nil)))
}

// Reset 清空全部状态（包括波形模板），重新进入预热
func (d *Detector) Reset() {
	d.Recalibrate()
	d.templates.reset()
}

// Recalibrate 清空信号缓冲和计时，保留已学习的波形模板
func (d *Detector) Recalibrate() {
	d.values.Reset()
	d.bpmHistory.Reset()
	d.sessionBPM.Reset()
	d.intervals.Reset()
	d.beats.Reset()
	d.started = false
	d.startTime = 0
	d.lastTime = 0
	d.lastValue = 0
	d.baseline = 0
	d.baselineInit = false
	d.hasPeak = false
	d.lastPeakTime = 0
	d.lastBPM = 0
	d.lastConfidence = 0
}

func (d *Detector) inWarmup(ts int64) bool {
	return ts-d.startTime < d.tuning.WarmupMs
}

// confidence 幅度、斜率、BPM 稳定性加权，截断到 [0,1]
func (d *Detector) confidence(norm, derivative float64) float64 {
	ampScore := math.Min(1, norm/d.tuning.AmplitudeThreshold/3)
	derivScore := math.Min(1, math.Abs(derivative)/math.Abs(d.tuning.DerivativeThreshold)/3)

	c := d.tuning.AmplitudeWeight*ampScore +
		d.tuning.DerivativeWeight*derivScore +
		d.tuning.StabilityWeight*d.stability()
	return math.Max(0, math.Min(1, c))
}

// stability 最近 3 个瞬时 BPM 的标准差映射到 [0,1]；不足 3 个时取 0.5
func (d *Detector) stability() float64 {
	recent := d.bpmHistory.Tail(3)
	if len(recent) < 3 {
		return 0.5
	}
	sd := stat.StdDev(recent, nil)
	return math.Max(0, 1-sd/20)
}

// templateAccepts 形态不像任何模板且时间也不符合预期时才拒绝
func (d *Detector) templateAccepts(shape []float64, elapsed int64) bool {
	if shape == nil || d.templates.empty() {
		return true
	}
	if d.templates.bestSimilarity(shape) >= d.tuning.TemplateSimilarity {
		return true
	}
	if d.intervals.Len() < 2 || !d.hasPeak {
		return true
	}
	expected := stat.Mean(d.intervals.Values(), nil)
	return math.Abs(float64(elapsed)-expected) <= d.tuning.JitterToleranceMs
}

// pushBPM 范围外的瞬时 BPM 直接丢弃
func (d *Detector) pushBPM(bpm float64) {
	if bpm < d.tuning.MinBPM || bpm > d.tuning.MaxBPM {
		return
	}
	d.bpmHistory.Push(bpm)
	d.sessionBPM.Push(bpm)
}

// smoothedBPM 去掉最大最小值后的平均
func (d *Detector) smoothedBPM() int {
	values := d.bpmHistory.Values()
	if len(values) == 0 {
		return d.lastBPM
	}
	if len(values) >= 3 {
		sort.Float64s(values)
		values = values[1 : len(values)-1]
	}
	return int(math.Round(stat.Mean(values, nil)))
}

func summarize(values []float64) (mean, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return stat.Mean(values, nil), lo, hi
}

func lastN(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	return values[len(values)-n:]
}

// apex 最近 n 个样本中的最大值（检测点在峰顶之后）
func apex(values []float64, n int) float64 {
	if n < 1 {
		n = 1
	}
	if n > len(values) {
		n = len(values)
	}
	top := math.Inf(-1)
	for _, v := range values[len(values)-n:] {
		top = math.Max(top, v)
	}
	return top
}

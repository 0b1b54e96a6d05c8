package vitals

import (
	"math"

	"wisefido-ppg/internal/ringbuf"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// 有效范围
const (
	minSpO2        = 70
	maxSpO2        = 100
	minBreathRate  = 6
	maxBreathRate  = 40
	minRespBeats   = 8
	minSystolic    = 90
	maxSystolic    = 180
	minDiastolic   = 50
	maxDiastolic   = 110
	minGlucose     = 70
	maxGlucose     = 180
	minCholesterol = 120
	maxCholesterol = 280
	minTriglycer   = 50
	maxTriglycer   = 300
	minHemoglobin  = 9
	maxHemoglobin  = 18
)

// acdc 交流分量（峰峰值）与直流分量（均值）
func acdc(values []float64) (ac, dc float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return floats.Max(values) - floats.Min(values), stat.Mean(values, nil)
}

// RatioOfRatios (AC/DC red)/(AC/DC blue)；任一分量无效时返回 0
func RatioOfRatios(red, blue []float64) float64 {
	acR, dcR := acdc(red)
	acB, dcB := acdc(blue)
	if dcR <= 0 || dcB <= 0 || acB <= 0 {
		return 0
	}
	return (acR / dcR) / (acB / dcB)
}

// PerfusionIndex 红色通道 AC/DC 百分比
func PerfusionIndex(red []float64) float64 {
	ac, dc := acdc(red)
	if dc <= 0 {
		return 0
	}
	return ac / dc * 100
}

// SpO2Estimator SpO2 = 104 - 17R，仅接受 [70,100] 内的读数并做滑动平均
type SpO2Estimator struct {
	accepted *ringbuf.Ring[float64]
}

// NewSpO2Estimator 创建 SpO2 估算器
func NewSpO2Estimator(smoothing int) *SpO2Estimator {
	return &SpO2Estimator{accepted: ringbuf.New[float64](smoothing)}
}

// Estimate 返回平滑后的 SpO2；尚无有效读数时返回 0
func (e *SpO2Estimator) Estimate(red, blue []float64) float64 {
	if r := RatioOfRatios(red, blue); r > 0 {
		spo2 := 104 - 17*r
		if spo2 >= minSpO2 && spo2 <= maxSpO2 {
			e.accepted.Push(spo2)
		}
	}
	if e.accepted.Len() == 0 {
		return 0
	}
	return stat.Mean(e.accepted.Values(), nil)
}

// Reset 清空已接受的读数
func (e *SpO2Estimator) Reset() { e.accepted.Reset() }

// RespirationEstimator 由心跳幅度的呼吸调制估算呼吸频率
type RespirationEstimator struct {
	times      *ringbuf.Ring[int64]
	amplitudes *ringbuf.Ring[float64]
}

// NewRespirationEstimator 创建呼吸估算器，window 为保留的心跳数
func NewRespirationEstimator(window int) *RespirationEstimator {
	return &RespirationEstimator{
		times:      ringbuf.New[int64](window),
		amplitudes: ringbuf.New[float64](window),
	}
}

// AddBeat 记录一个确认的心跳
func (e *RespirationEstimator) AddBeat(ts int64, amplitude float64) {
	e.times.Push(ts)
	e.amplitudes.Push(amplitude)
}

// Estimate 返回每分钟呼吸次数和相对呼吸深度；数据不足或超出 [6,40] 时返回 0
func (e *RespirationEstimator) Estimate() (rate, depth float64) {
	n := e.amplitudes.Len()
	if n < minRespBeats {
		return 0, 0
	}
	amps := e.amplitudes.Values()
	mean := stat.Mean(amps, nil)
	if mean <= 0 {
		return 0, 0
	}

	crossings := 0
	prev := amps[0] - mean
	for _, a := range amps[1:] {
		cur := a - mean
		if (prev < 0 && cur >= 0) || (prev >= 0 && cur < 0) {
			crossings++
		}
		prev = cur
	}

	first, _ := e.times.Oldest()
	last, _ := e.times.Last()
	minutes := float64(last-first) / 60000
	if minutes <= 0 {
		return 0, 0
	}
	rate = float64(crossings) / 2 / minutes
	if rate < minBreathRate || rate > maxBreathRate {
		return 0, 0
	}
	depth = stat.StdDev(amps, nil) / mean
	return rate, depth
}

// Reset 清空心跳记录
func (e *RespirationEstimator) Reset() {
	e.times.Reset()
	e.amplitudes.Reset()
}

// BloodPressure 收缩压/舒张压（mmHg）
type BloodPressure struct {
	Systolic  int
	Diastolic int
}

// EstimateBloodPressure 心率与灌注指数的经验拟合；无心率时返回零值
func EstimateBloodPressure(bpm int, perfusion float64) BloodPressure {
	if bpm <= 0 {
		return BloodPressure{}
	}
	hr := float64(bpm)
	sys := 118 + 0.45*(hr-70) - 1.5*(perfusion-2)
	dia := 76 + 0.25*(hr-70) - 0.8*(perfusion-2)

	sys = clamp(sys, minSystolic, maxSystolic)
	dia = clamp(dia, minDiastolic, maxDiastolic)
	if dia > sys-20 {
		dia = sys - 20
	}
	return BloodPressure{Systolic: int(math.Round(sys)), Diastolic: int(math.Round(dia))}
}

// GlucoseEstimator 血糖经验估算，包含按会话开始时刻计算的时段偏移
type GlucoseEstimator struct {
	offset float64
}

// NewGlucoseEstimator hour 为会话开始时的本地小时
func NewGlucoseEstimator(hour int) *GlucoseEstimator {
	return &GlucoseEstimator{offset: timeOfDayOffset(hour)}
}

// timeOfDayOffset 餐后时段抬高基准
func timeOfDayOffset(hour int) float64 {
	switch {
	case hour >= 7 && hour < 10:
		return 8
	case hour >= 12 && hour < 15:
		return 12
	case hour >= 18 && hour < 21:
		return 10
	default:
		return 0
	}
}

// Estimate 返回 mg/dL；无心率时返回 0
func (e *GlucoseEstimator) Estimate(bpm int, perfusion, rmssd float64) float64 {
	if bpm <= 0 {
		return 0
	}
	g := 95 + e.offset + 0.3*(float64(bpm)-70) - 2*(perfusion-2) - 0.05*(rmssd-40)
	return round1(clamp(g, minGlucose, maxGlucose))
}

// Lipids 总胆固醇与甘油三酯（mg/dL）
type Lipids struct {
	TotalCholesterol float64
	Triglycerides    float64
}

// EstimateLipids HRV 越低估值越高；无心率时返回零值
func EstimateLipids(bpm int, rmssd, perfusion float64) Lipids {
	if bpm <= 0 {
		return Lipids{}
	}
	hrvPenalty := math.Max(0, 40-rmssd) / 40
	tc := 180 + 0.4*(float64(bpm)-70) + 25*hrvPenalty - 3*(perfusion-2)
	tg := 130 + 0.6*(float64(bpm)-70) + 40*hrvPenalty
	return Lipids{
		TotalCholesterol: round1(clamp(tc, minCholesterol, maxCholesterol)),
		Triglycerides:    round1(clamp(tg, minTriglycer, maxTriglycer)),
	}
}

// EstimateHemoglobin 由红/蓝吸收比估算（g/dL）；比值无效时返回 0
func EstimateHemoglobin(ratio, perfusion float64) float64 {
	if ratio <= 0 {
		return 0
	}
	hb := 13.5 + 2.5*(ratio-0.8) + 0.2*(perfusion-2)
	return round1(clamp(hb, minHemoglobin, maxHemoglobin))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

package vitals

import (
	"time"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/ringbuf"
)

// Features 一次体征分析的输入
type Features struct {
	Timestamp       int64
	BPM             int
	RMSSD           float64
	ArrhythmiaTrend float64
}

// Suite 衍生体征估算集合，各估算器独立维护窗口
// 数据不足时对应字段为 0
type Suite struct {
	tuning config.VitalsTuning

	red  *ringbuf.Ring[float64]
	blue *ringbuf.Ring[float64]

	spo2        *SpO2Estimator
	respiration *RespirationEstimator
	glucose     *GlucoseEstimator

	latest models.VitalSigns
}

// NewSuite 创建估算集合；sessionStart 用于血糖时段偏移
func NewSuite(tuning config.VitalsTuning, sessionStart time.Time) *Suite {
	return &Suite{
		tuning:      tuning,
		red:         ringbuf.New[float64](tuning.WindowSize),
		blue:        ringbuf.New[float64](tuning.WindowSize),
		spo2:        NewSpO2Estimator(tuning.SpO2SmoothingWindow),
		respiration: NewRespirationEstimator(tuning.RespirationWindow),
		glucose:     NewGlucoseEstimator(sessionStart.Hour()),
	}
}

// Observe 记录一帧的红/蓝通道均值
func (s *Suite) Observe(red, blue float64) {
	if red <= 0 || blue <= 0 {
		return
	}
	s.red.Push(red)
	s.blue.Push(blue)
}

// ObserveBeat 记录一个确认的心跳
func (s *Suite) ObserveBeat(beat models.BeatEvent) {
	s.respiration.AddBeat(beat.Time, beat.Amplitude)
}

// Update 运行全部估算器并返回最新体征
func (s *Suite) Update(f Features) models.VitalSigns {
	v := models.VitalSigns{
		ArrhythmiaTrend: f.ArrhythmiaTrend,
		UpdatedAt:       f.Timestamp,
	}

	if s.red.Len() >= s.tuning.WindowSize/2 {
		red, blue := s.red.Values(), s.blue.Values()
		v.SpO2 = round1(s.spo2.Estimate(red, blue))
		v.PerfusionIndex = round1(PerfusionIndex(red))
		v.Hemoglobin = EstimateHemoglobin(RatioOfRatios(red, blue), v.PerfusionIndex)
	}

	v.RespirationRate, v.RespirationDepth = s.respiration.Estimate()
	v.RespirationRate = round1(v.RespirationRate)

	bp := EstimateBloodPressure(f.BPM, v.PerfusionIndex)
	v.Systolic, v.Diastolic = bp.Systolic, bp.Diastolic

	v.Glucose = s.glucose.Estimate(f.BPM, v.PerfusionIndex, f.RMSSD)

	lipids := EstimateLipids(f.BPM, f.RMSSD, v.PerfusionIndex)
	v.TotalCholesterol, v.Triglycerides = lipids.TotalCholesterol, lipids.Triglycerides

	s.latest = v
	return v
}

// Latest 最近一次结果
func (s *Suite) Latest() models.VitalSigns { return s.latest }

// Reset 清空所有窗口
func (s *Suite) Reset() {
	s.red.Reset()
	s.blue.Reset()
	s.spo2.Reset()
	s.respiration.Reset()
	s.latest = models.VitalSigns{}
}

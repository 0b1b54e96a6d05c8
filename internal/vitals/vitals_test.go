package vitals

import (
	"math"
	"testing"
	"time"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pulse 以 dc 为中心、峰峰值为 ac 的正弦窗口
func pulse(n int, dc, ac float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = dc + ac/2*math.Sin(2*math.Pi*float64(i)/30)
	}
	return out
}

func TestRatioOfRatios(t *testing.T) {
	red := pulse(90, 150, 3)
	blue := pulse(90, 50, 2)
	// (3/150)/(2/50) = 0.5
	assert.InDelta(t, 0.5, RatioOfRatios(red, blue), 1e-3)

	assert.Equal(t, 0.0, RatioOfRatios(red, pulse(90, 50, 0)))
	assert.Equal(t, 0.0, RatioOfRatios(nil, blue))
}

func TestSpO2Estimator(t *testing.T) {
	e := NewSpO2Estimator(4)
	assert.Equal(t, 0.0, e.Estimate(nil, nil))

	// R = 0.5 → 95.5
	spo2 := e.Estimate(pulse(90, 150, 3), pulse(90, 50, 2))
	assert.InDelta(t, 95.5, spo2, 0.1)

	// R = 3 → 53，超出范围不计入
	spo2 = e.Estimate(pulse(90, 150, 9), pulse(90, 50, 1))
	assert.InDelta(t, 95.5, spo2, 0.1)

	e.Reset()
	assert.Equal(t, 0.0, e.Estimate(pulse(90, 150, 9), pulse(90, 50, 1)))
}

func TestRespirationEstimator(t *testing.T) {
	e := NewRespirationEstimator(30)
	rate, depth := e.Estimate()
	assert.Equal(t, 0.0, rate)
	assert.Equal(t, 0.0, depth)

	// 75 BPM 心跳，幅度按 15 次/分钟调制（每 5 个心跳一个呼吸周期）
	for i := 0; i < 30; i++ {
		ts := int64(i * 800)
		amp := 1 + 0.2*math.Sin(2*math.Pi*float64(i)/5+0.3)
		e.AddBeat(ts, amp)
	}
	rate, depth = e.Estimate()
	assert.InDelta(t, 15, rate, 2)
	assert.Greater(t, depth, 0.0)
}

func TestRespirationEstimator_OutOfRange(t *testing.T) {
	e := NewRespirationEstimator(30)
	// 幅度每个心跳翻转，对应 ~37 次/分钟以上的假呼吸
	for i := 0; i < 30; i++ {
		amp := 1.0
		if i%2 == 1 {
			amp = 0.8
		}
		e.AddBeat(int64(i*600), amp)
	}
	rate, _ := e.Estimate()
	assert.Equal(t, 0.0, rate)
}

func TestEstimateBloodPressure(t *testing.T) {
	assert.Equal(t, BloodPressure{}, EstimateBloodPressure(0, 2))

	bp := EstimateBloodPressure(70, 2)
	assert.Equal(t, 118, bp.Systolic)
	assert.Equal(t, 76, bp.Diastolic)

	high := EstimateBloodPressure(200, 0)
	assert.LessOrEqual(t, high.Systolic, maxSystolic)
	assert.LessOrEqual(t, high.Diastolic, high.Systolic-20)
}

func TestGlucoseEstimator_TimeOfDayOffset(t *testing.T) {
	night := NewGlucoseEstimator(3)
	lunch := NewGlucoseEstimator(13)

	assert.Equal(t, 0.0, night.Estimate(0, 2, 40))
	assert.Equal(t, 95.0, night.Estimate(70, 2, 40))
	assert.Equal(t, 107.0, lunch.Estimate(70, 2, 40))
}

func TestEstimateLipidsAndHemoglobin(t *testing.T) {
	assert.Equal(t, Lipids{}, EstimateLipids(0, 40, 2))

	l := EstimateLipids(70, 40, 2)
	assert.Equal(t, 180.0, l.TotalCholesterol)
	assert.Equal(t, 130.0, l.Triglycerides)

	lowHRV := EstimateLipids(70, 0, 2)
	assert.Greater(t, lowHRV.TotalCholesterol, l.TotalCholesterol)

	assert.Equal(t, 0.0, EstimateHemoglobin(0, 2))
	assert.Equal(t, 13.5, EstimateHemoglobin(0.8, 2))
	assert.Equal(t, float64(maxHemoglobin), EstimateHemoglobin(10, 2))
}

func TestSuite_NotReadyReturnsZeros(t *testing.T) {
	s := NewSuite(config.DefaultTuning().Vitals, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC))

	v := s.Update(Features{Timestamp: 1000})
	assert.Equal(t, models.VitalSigns{UpdatedAt: 1000}, v)
}

func TestSuite_Update(t *testing.T) {
	s := NewSuite(config.DefaultTuning().Vitals, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC))

	red := pulse(90, 150, 3)
	blue := pulse(90, 50, 2)
	for i := range red {
		s.Observe(red[i], blue[i])
	}
	s.Observe(0, 50) // 红色不占优的帧不计入

	for i := 0; i < 30; i++ {
		s.ObserveBeat(models.BeatEvent{
			Time:      int64(i * 800),
			Amplitude: 1 + 0.2*math.Sin(2*math.Pi*float64(i)/5+0.3),
		})
	}

	v := s.Update(Features{Timestamp: 24000, BPM: 75, RMSSD: 35, ArrhythmiaTrend: 0.1})
	assert.InDelta(t, 95.5, v.SpO2, 0.2)
	assert.InDelta(t, 2, v.PerfusionIndex, 0.05)
	assert.InDelta(t, 15, v.RespirationRate, 2)
	assert.NotZero(t, v.Systolic)
	assert.NotZero(t, v.Diastolic)
	assert.NotZero(t, v.Glucose)
	assert.NotZero(t, v.TotalCholesterol)
	assert.NotZero(t, v.Hemoglobin)
	assert.Equal(t, 0.1, v.ArrhythmiaTrend)
	assert.Equal(t, v, s.Latest())

	s.Reset()
	require.Equal(t, models.VitalSigns{}, s.Latest())
	v = s.Update(Features{Timestamp: 25000})
	assert.Zero(t, v.SpO2)
	assert.Zero(t, v.RespirationRate)
}

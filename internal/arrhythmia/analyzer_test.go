package arrhythmia

import (
	"strings"
	"testing"

	"wisefido-ppg/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// beatFeeder 模拟逐个心跳调用 Analyze，保留最近 8 个间期
type beatFeeder struct {
	a    *Analyzer
	now  int64
	rr   []float64
	amps []float64
}

func newFeeder(a *Analyzer) *beatFeeder {
	return &beatFeeder{a: a}
}

func (f *beatFeeder) beat(interval, amp float64) Result {
	f.now += int64(interval)
	f.rr = append(f.rr, interval)
	f.amps = append(f.amps, amp)
	if len(f.rr) > 8 {
		f.rr = f.rr[1:]
		f.amps = f.amps[1:]
	}
	return f.a.Analyze(f.rr, f.amps, f.now)
}

// warmUp 基线 800ms / 幅度 1.0，越过学习期后再给 3 个正常心跳
func (f *beatFeeder) warmUp(t *testing.T) {
	for i := 0; i < 10; i++ {
		f.beat(800, 1.0)
	}
	require.False(t, f.a.Latest().IsLearningPhase)
}

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(config.DefaultTuning().Arrhythmia)
}

func TestAnalyzer_SinglePrematureBeatCountedOnce(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	res := f.beat(600, 0.4)
	assert.True(t, res.IsPremature)
	assert.True(t, res.Counted)
	assert.GreaterOrEqual(t, res.Confidence, 0.75)
	assert.Equal(t, RuleIsolatedPremature, res.Rule)

	for i := 0; i < 10; i++ {
		r := f.beat(800, 1.0)
		assert.False(t, r.Counted)
	}
	assert.Equal(t, 1, a.Count())
	assert.Equal(t, "DETECTED|1", a.Latest().Status)
}

func TestAnalyzer_CompensatoryPauseNotDoubleCounted(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	first := f.beat(600, 0.4)
	require.True(t, first.Counted)

	// 代偿间歇命中经典早搏规则，但指向的是已经计数的那个心跳
	second := f.beat(1000, 1.0)
	assert.True(t, second.IsPremature)
	assert.Equal(t, RuleClassicPremature, second.Rule)
	assert.Equal(t, 0.90, second.Confidence)
	assert.False(t, second.Counted)

	for i := 0; i < 10; i++ {
		f.beat(800, 1.0)
	}
	assert.Equal(t, 1, a.Count())
}

func TestAnalyzer_LearningPhaseNeverDetects(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)

	for i := 0; i < 6; i++ {
		var res Result
		if i%2 == 0 {
			res = f.beat(800, 1.0)
		} else {
			res = f.beat(500, 0.2)
		}
		assert.True(t, res.IsLearningPhase)
		assert.False(t, res.IsPremature)
		assert.False(t, res.Counted)
		assert.True(t, strings.HasPrefix(res.Status, "LEARNING|"))
	}
	assert.Equal(t, 0, a.Count())
}

func TestAnalyzer_LearningStatusCountsDown(t *testing.T) {
	a := newTestAnalyzer()

	res := a.Analyze([]float64{800}, []float64{1}, 1000)
	assert.Equal(t, "LEARNING|5", res.Status)

	res = a.Analyze([]float64{800, 800}, []float64{1, 1}, 3200)
	assert.Equal(t, "LEARNING|3", res.Status)
}

func TestAnalyzer_DebounceSpacing(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	r1 := f.beat(500, 0.3)
	require.True(t, r1.Counted)

	// 500ms 后第二个早搏：命中规则但间隔不足
	r2 := f.beat(500, 0.3)
	assert.True(t, r2.IsPremature)
	assert.False(t, r2.Counted)
	assert.Equal(t, 1, a.Count())
}

func TestAnalyzer_CountNeverExceedsCap(t *testing.T) {
	tuning := config.DefaultTuning().Arrhythmia
	tuning.MaxCount = 3
	a := NewAnalyzer(tuning)
	f := newFeeder(a)
	f.warmUp(t)

	var countedAt []int64
	prev := 0
	for i := 0; i < 20; i++ {
		f.beat(800, 1.0)
		res := f.beat(500, 0.3)
		assert.GreaterOrEqual(t, res.Count, prev)
		prev = res.Count
		if res.Counted {
			countedAt = append(countedAt, f.now)
		}
	}

	assert.Equal(t, 3, a.Count())
	require.Len(t, countedAt, 3)
	for i := 1; i < len(countedAt); i++ {
		assert.GreaterOrEqual(t, countedAt[i]-countedAt[i-1], tuning.MinTimeBetweenMs)
	}
}

func TestAnalyzer_SmallAmplitudeRule(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	res := f.beat(800, 0.5)
	assert.True(t, res.IsPremature)
	assert.Equal(t, RuleSmallAmplitude, res.Rule)
	assert.Equal(t, 0.73, res.Confidence)
	assert.True(t, res.Counted)
}

func TestAnalyzer_RRVariationRule(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	// 长间期 + 幅度下降，不满足早搏规则
	res := f.beat(1200, 0.75)
	assert.True(t, res.IsPremature)
	assert.Equal(t, RuleRRVariation, res.Rule)
	assert.InDelta(t, 0.5, res.RRVariation, 1e-9)
}

func TestAnalyzer_NormalBeatsNotDetected(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	for i := 0; i < 20; i++ {
		res := f.beat(780+float64(i%3)*20, 1.0)
		assert.False(t, res.IsPremature)
		assert.Equal(t, "NONE|0", res.Status)
	}
	assert.InDelta(t, 800, a.Baseline().BaselineRRInterval, 1e-9)
	assert.Equal(t, 0.0, a.Trend())
}

func TestAnalyzer_SynthesizesAmplitudes(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	for i := 0; i < 10; i++ {
		f.now += 800
		f.rr = append(f.rr, 800)
		a.Analyze(f.rr, nil, f.now)
	}

	assert.InDelta(t, 800, a.Baseline().BaselineRRInterval, 1e-9)
	assert.InDelta(t, 0.125, a.Baseline().BaselineAmplitude, 1e-9)
	assert.False(t, a.Baseline().LearningPhaseActive)
}

func TestAnalyzer_DropsInvalidIntervals(t *testing.T) {
	a := newTestAnalyzer()
	res := a.Analyze([]float64{100, 2500}, nil, 0)
	assert.True(t, res.IsLearningPhase)
	assert.Equal(t, 0.0, res.RMSSD)
	assert.Equal(t, 0.0, a.Baseline().BaselineRRInterval)
}

func TestAnalyzer_RMSSD(t *testing.T) {
	assert.Equal(t, 0.0, RMSSD([]float64{800}))
	assert.InDelta(t, 100, RMSSD([]float64{800, 900, 800}), 1e-9)

	a := newTestAnalyzer()
	res := a.Analyze([]float64{800, 900, 800}, nil, 0)
	assert.InDelta(t, 100, res.RMSSD, 1e-9)
}

func TestAnalyzer_Trend(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)

	f.beat(800, 1.0)
	f.beat(600, 0.4)
	f.beat(800, 1.0)
	f.beat(800, 1.0)

	// 学习期后 3+4 次分类中 1 次早搏
	assert.InDelta(t, 1.0/7, a.Trend(), 1e-9)
}

func TestAnalyzer_Reset(t *testing.T) {
	a := newTestAnalyzer()
	f := newFeeder(a)
	f.warmUp(t)
	f.beat(600, 0.4)
	require.Equal(t, 1, a.Count())

	a.Reset()
	assert.Equal(t, 0, a.Count())
	assert.Equal(t, 0.0, a.Trend())
	assert.Equal(t, 0.0, a.Baseline().BaselineRRInterval)

	res := a.Analyze([]float64{800}, []float64{1}, 100000)
	assert.True(t, res.IsLearningPhase)
	assert.Equal(t, "LEARNING|5", res.Status)
}

package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"wisefido-ppg/internal/arrhythmia"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu          sync.Mutex
	samples     []models.SignalSample
	beats       []models.BeatPayload
	arrhythmias []models.ArrhythmiaPayload
	realtime    []models.RealtimeData
	panicOnce   bool
}

func (s *fakeSink) PublishSample(_ context.Context, _, _ string, sample models.SignalSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnce {
		s.panicOnce = false
		panic("sink exploded")
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (s *fakeSink) PublishBeat(_ context.Context, payload *models.BeatPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats = append(s.beats, *payload)
	return nil
}

func (s *fakeSink) PublishArrhythmia(_ context.Context, payload *models.ArrhythmiaPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrhythmias = append(s.arrhythmias, *payload)
	return nil
}

func (s *fakeSink) UpdateRealtime(_ context.Context, data *models.RealtimeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realtime = append(s.realtime, *data)
	return nil
}

func (s *fakeSink) beatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.beats)
}

type fakeTorch struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (f *fakeTorch) SetTorch(_ context.Context, _ string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, on)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	beeps int
}

func (f *fakeNotifier) Beep(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beeps++
	return errors.New("speaker busy")
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beeps
}

func testTuning() config.Tuning {
	tuning := config.DefaultTuning()
	tuning.Beat.MinConfidence = 0.4
	return tuning
}

func newTestPipeline(t *testing.T, deps Dependencies) *Pipeline {
	p := New("device-1", testTuning(), deps, zap.NewNop())
	t.Cleanup(func() {
		if p.Running() {
			_, _ = p.Stop(context.Background())
		}
	})
	return p
}

// feedSine 按 30Hz 输入 seconds 秒 60 BPM 的信号
func feedSine(t *testing.T, p *Pipeline, seconds int) {
	for i := 0; i < seconds*30; i++ {
		ts := int64(i * 1000 / 30)
		v := 100 + 5*math.Sin(2*math.Pi*float64(i)/30)
		_, err := p.ProcessValue(ts, v)
		require.NoError(t, err)
	}
}

func TestPipeline_StartStopLifecycle(t *testing.T) {
	torch := &fakeTorch{}
	p := newTestPipeline(t, Dependencies{Torch: torch})

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Running())
	first := p.SessionID()
	assert.NotEmpty(t, first)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)

	summary, err := p.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, summary.SessionID)
	assert.Equal(t, "device-1", summary.DeviceID)
	assert.False(t, p.Running())
	assert.Equal(t, []bool{true, false}, torch.calls)

	_, err = p.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	// 可重新启动，新会话ID
	require.NoError(t, p.Start(context.Background()))
	assert.NotEqual(t, first, p.SessionID())
}

func TestPipeline_TorchFailurePreventsStart(t *testing.T) {
	p := newTestPipeline(t, Dependencies{Torch: &fakeTorch{err: errors.New("camera busy")}})

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "torch")
	assert.False(t, p.Running())
}

func TestPipeline_CallsWhileStopped(t *testing.T) {
	p := newTestPipeline(t, Dependencies{})

	_, err := p.ProcessValue(0, 1)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = p.ProcessFrame(&models.RawFrame{})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, p.SubmitFrame(&models.RawFrame{}), ErrNotRunning)
}

func TestPipeline_SinusoidProducesBeats(t *testing.T) {
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(t, Dependencies{Sink: sink, Notifier: notifier})
	require.NoError(t, p.Start(context.Background()))

	feedSine(t, p, 10)

	sink.mu.Lock()
	beats := append([]models.BeatPayload(nil), sink.beats...)
	arrhythmias := len(sink.arrhythmias)
	samples := len(sink.samples)
	sink.mu.Unlock()

	require.GreaterOrEqual(t, len(beats), 7)
	assert.Equal(t, len(beats), arrhythmias)
	assert.Greater(t, samples, 0)
	assert.LessOrEqual(t, samples, 300)

	for i := 1; i < len(beats); i++ {
		assert.GreaterOrEqual(t, beats[i].Beat.Time-beats[i-1].Beat.Time, int64(300))
	}
	last := beats[len(beats)-1]
	assert.InDelta(t, 60, last.BPM, 3)
	assert.Equal(t, p.SessionID(), last.SessionID)

	snap := p.Snapshot()
	assert.True(t, snap.Sample.FingerDetected)
	assert.Equal(t, 100, snap.Sample.Quality)
	assert.InDelta(t, 60, snap.BPM, 3)

	assert.Eventually(t, func() bool { return notifier.count() == len(beats) }, time.Second, 10*time.Millisecond)

	summary, err := p.Stop(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 60, summary.FinalBPM, 3)
	assert.GreaterOrEqual(t, summary.BeatCount, 6)
	assert.Equal(t, 0, summary.ArrhythmiaCount)
	assert.Equal(t, int64(len(beats)), p.Metrics().BeatsConfirmed)
}

func TestPipeline_FlatLine(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(t, Dependencies{Sink: sink})
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 600; i++ {
		sample, err := p.ProcessValue(int64(i*33), 80)
		require.NoError(t, err)
		assert.Equal(t, 0, sample.Quality)
		assert.False(t, sample.FingerDetected)
	}
	assert.Equal(t, 0, sink.beatCount())
	assert.Equal(t, 0, p.Snapshot().BPM)
}

func TestPipeline_RecoversFromPanic(t *testing.T) {
	sink := &fakeSink{panicOnce: true}
	p := newTestPipeline(t, Dependencies{Sink: sink})
	require.NoError(t, p.Start(context.Background()))

	_, err := p.ProcessValue(0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.True(t, p.Running())
	assert.Equal(t, int64(1), p.Metrics().FramesFailed)

	_, err = p.ProcessValue(100, 1)
	assert.NoError(t, err)
}

func TestPipeline_FrameLoopProcessesLatestFrame(t *testing.T) {
	tuning := testTuning()
	tuning.Pipeline.FrameIntervalMs = 5
	p := New("device-1", tuning, Dependencies{}, zap.NewNop())
	defer p.Stop(context.Background())
	require.NoError(t, p.Start(context.Background()))

	frame := func(ts int64) *models.RawFrame {
		px := make([]byte, 20*20*3)
		for i := 0; i < 400; i++ {
			px[i*3] = 180
			px[i*3+1] = 40
			px[i*3+2] = 30
		}
		return &models.RawFrame{Timestamp: ts, Width: 20, Height: 20, Channels: 3, Pixels: px}
	}

	// 连续提交，未处理的帧被覆盖
	require.NoError(t, p.SubmitFrame(frame(1)))
	require.NoError(t, p.SubmitFrame(frame(2)))
	require.NoError(t, p.SubmitFrame(frame(3)))

	assert.Eventually(t, func() bool {
		return p.Metrics().FramesProcessed >= 1
	}, time.Second, 5*time.Millisecond)

	m := p.Metrics()
	assert.Equal(t, int64(3), m.FramesSubmitted)
	assert.GreaterOrEqual(t, m.FramesDropped, int64(1))
	assert.Equal(t, int64(3), p.Snapshot().Sample.Timestamp)
}

func TestPipeline_InvalidFrameKeepsLastValue(t *testing.T) {
	p := newTestPipeline(t, Dependencies{})
	require.NoError(t, p.Start(context.Background()))

	_, err := p.ProcessValue(0, 42)
	require.NoError(t, err)

	sample, err := p.ProcessFrame(&models.RawFrame{Timestamp: 33, Width: 10, Height: 10, Channels: 3})
	require.NoError(t, err)
	assert.Equal(t, 42.0, sample.RawValue)
	assert.Equal(t, int64(33), sample.Timestamp)
	assert.False(t, sample.FingerDetected)

	_, err = p.ProcessFrame(nil)
	assert.NoError(t, err)
}

func TestPipeline_ResetAndCalibrateKeepRunning(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(t, Dependencies{Sink: sink})
	require.NoError(t, p.Start(context.Background()))
	feedSine(t, p, 5)
	require.NotZero(t, p.Snapshot().BPM)

	p.Calibrate()
	assert.True(t, p.Running())
	assert.Zero(t, p.Snapshot().BPM)

	p.Reset()
	assert.True(t, p.Running())
	snap := p.Snapshot()
	assert.Zero(t, snap.BPM)
	assert.Zero(t, snap.ArrhythmiaCount)
	assert.Empty(t, snap.ArrhythmiaStatus)
}

func solidFrame(ts int64, r, g, b byte) *models.RawFrame {
	px := make([]byte, 20*20*3)
	for i := 0; i < 400; i++ {
		px[i*3] = r
		px[i*3+1] = g
		px[i*3+2] = b
	}
	return &models.RawFrame{Timestamp: ts, Width: 20, Height: 20, Channels: 3, Pixels: px}
}

func TestPipeline_VitalsIgnoreFramesWithoutFinger(t *testing.T) {
	p := newTestPipeline(t, Dependencies{})
	require.NoError(t, p.Start(context.Background()))

	// 环境画面：红色不占优，不应进入 SpO2 / 灌注指数窗口
	var ts int64
	for i := 0; i < 120; i++ {
		ts = int64(i * 1000 / 30)
		red := byte(100 + 10*(i%2))
		_, err := p.ProcessFrame(solidFrame(ts, red, 100, byte(100+5*(i%2))))
		require.NoError(t, err)
	}
	vitals := p.Snapshot().Vitals
	assert.Zero(t, vitals.PerfusionIndex)
	assert.Zero(t, vitals.SpO2)

	for i := 120; i < 240; i++ {
		ts = int64(i * 1000 / 30)
		red := byte(180 + 10*(i%2))
		_, err := p.ProcessFrame(solidFrame(ts, red, 40, byte(30+2*(i%2))))
		require.NoError(t, err)
	}
	assert.Greater(t, p.Snapshot().Vitals.PerfusionIndex, 0.0)
}

func TestAnalyzeLatest_LongGapDoesNotRecountPrematureBeat(t *testing.T) {
	a := arrhythmia.NewAnalyzer(config.DefaultTuning().Arrhythmia)
	var beats []models.BeatEvent
	add := func(ts int64, amp float64) arrhythmia.Result {
		beats = append(beats, models.BeatEvent{Time: ts, Amplitude: amp, IsConfirmedPeak: true})
		result, _ := analyzeLatest(a, beats, 8, ts)
		return result
	}

	var ts int64
	add(ts, 1.0)
	for i := 0; i < 10; i++ {
		ts += 800
		add(ts, 1.0)
	}

	ts += 600
	premature := add(ts, 0.4)
	require.True(t, premature.Counted)
	require.Equal(t, arrhythmia.RuleIsolatedPremature, premature.Rule)

	// 漏检造成 2200ms 间隔：该心跳没有有效间期，不能把早搏再分析一次
	ts += 2200
	gap := add(ts, 1.0)
	assert.False(t, gap.Counted)
	assert.False(t, gap.IsPremature)
	assert.Equal(t, 1, gap.Count)
	assert.InDelta(t, 800, a.Baseline().BaselineRRInterval, 1e-9)

	ts += 800
	next := add(ts, 1.0)
	assert.False(t, next.Counted)
	assert.Equal(t, 1, a.Count())
}

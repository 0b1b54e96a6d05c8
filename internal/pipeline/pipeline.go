package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-ppg/internal/arrhythmia"
	"wisefido-ppg/internal/beat"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/filter"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/ringbuf"
	"wisefido-ppg/internal/sampler"
	"wisefido-ppg/internal/vitals"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNotRunning 会话未启动
	ErrNotRunning = errors.New("pipeline is not running")
	// ErrAlreadyRunning 会话已启动
	ErrAlreadyRunning = errors.New("pipeline is already running")
)

// Sink 处理结果的输出端
type Sink interface {
	PublishSample(ctx context.Context, sessionID, deviceID string, sample models.SignalSample) error
	PublishBeat(ctx context.Context, payload *models.BeatPayload) error
	PublishArrhythmia(ctx context.Context, payload *models.ArrhythmiaPayload) error
	UpdateRealtime(ctx context.Context, data *models.RealtimeData) error
}

// Illuminator 闪光灯控制
type Illuminator interface {
	SetTorch(ctx context.Context, deviceID string, on bool) error
}

// BeatNotifier 每个确认心跳的提示音
type BeatNotifier interface {
	Beep(ctx context.Context, deviceID string) error
}

// EventRecorder 计数的心律失常事件持久化
type EventRecorder interface {
	RecordArrhythmiaEvent(ctx context.Context, event *models.ArrhythmiaEvent) error
}

// Dependencies 外部协作者，均可为 nil
type Dependencies struct {
	Sink     Sink
	Torch    Illuminator
	Notifier BeatNotifier
	Recorder EventRecorder
}

// Summary 会话结束时的汇总
type Summary struct {
	SessionID       string
	DeviceID        string
	StartedAt       time.Time
	EndedAt         time.Time
	FinalBPM        int
	BeatCount       int
	ArrhythmiaCount int
	Vitals          models.VitalSigns
}

// Pipeline 单个测量会话的信号处理流水线
// 帧只保留最新一帧；处理循环按 FrameIntervalMs 定时取帧
type Pipeline struct {
	deviceID string
	tuning   config.Tuning
	deps     Dependencies
	logger   *zap.Logger
	metrics  *Metrics

	// mu 保护生命周期和全部处理状态
	mu        sync.Mutex
	running   atomic.Bool
	sessionID string
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	frameMu      sync.Mutex
	latestFrame  *models.RawFrame
	frameSeq     uint64
	processedSeq uint64

	sampler  *sampler.Sampler
	quality  *sampler.QualityMeter
	filter   *filter.Chain
	detector *beat.Detector
	analyzer *arrhythmia.Analyzer
	vitals   *vitals.Suite
	samples  *ringbuf.Ring[models.SignalSample]

	publishLimiter  *rate.Limiter
	analysisLimiter *rate.Limiter

	lastSample     models.SignalSample
	lastArrhythmia arrhythmia.Result
}

// New 创建流水线（未启动）
func New(deviceID string, tuning config.Tuning, deps Dependencies, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		deviceID: deviceID,
		tuning:   tuning,
		deps:     deps,
		logger:   logger.With(zap.String("device_id", deviceID)),
		metrics:  &Metrics{StartTime: time.Now()},
	}
	p.buildComponents(time.Now())
	return p
}

func (p *Pipeline) buildComponents(sessionStart time.Time) {
	p.sampler = sampler.NewSampler(p.tuning.Sampler)
	p.quality = sampler.NewQualityMeter(p.tuning.Sampler)
	p.filter = filter.NewChain(p.tuning.Filter)
	p.detector = beat.NewDetector(p.tuning.Beat)
	p.analyzer = arrhythmia.NewAnalyzer(p.tuning.Arrhythmia)
	p.vitals = vitals.NewSuite(p.tuning.Vitals, sessionStart)
	p.samples = ringbuf.New[models.SignalSample](p.tuning.Vitals.WindowSize)

	p.publishLimiter = rate.NewLimiter(rate.Limit(p.tuning.Pipeline.MaxPublishHz), 1)
	p.analysisLimiter = rate.NewLimiter(
		rate.Every(time.Duration(p.tuning.Pipeline.AnalysisCooldownMs)*time.Millisecond), 1)

	p.lastSample = models.SignalSample{}
	p.lastArrhythmia = arrhythmia.Result{}
}

// Start 打开闪光灯并启动处理循环。闪光灯失败时会话不启动
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}

	if p.deps.Torch != nil {
		if err := p.deps.Torch.SetTorch(ctx, p.deviceID, true); err != nil {
			return fmt.Errorf("failed to switch torch on: %w", err)
		}
	}

	p.sessionID = uuid.New().String()
	p.startedAt = time.Now()
	p.buildComponents(p.startedAt)
	p.metrics.reset()

	p.frameMu.Lock()
	p.latestFrame = nil
	p.processedSeq = p.frameSeq
	p.frameMu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	p.runCtx = runCtx
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)

	go p.loop(runCtx, p.done)

	p.logger.Info("PPG session started", zap.String("session_id", p.sessionID))
	return nil
}

// Stop 停止处理循环，同步关闭闪光灯，清空缓冲并返回会话汇总
func (p *Pipeline) Stop(ctx context.Context) (*Summary, error) {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return nil, ErrNotRunning
	}
	p.running.Store(false)
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	// 处理循环持有 mu，必须在锁外等待其退出
	cancel()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deps.Torch != nil {
		if err := p.deps.Torch.SetTorch(ctx, p.deviceID, false); err != nil {
			p.metrics.incPublishError()
			p.logger.Error("Failed to switch torch off", zap.Error(err))
		}
	}

	summary := &Summary{
		SessionID:       p.sessionID,
		DeviceID:        p.deviceID,
		StartedAt:       p.startedAt,
		EndedAt:         time.Now(),
		FinalBPM:        p.detector.FinalBPM(),
		BeatCount:       p.detector.BeatCount(),
		ArrhythmiaCount: p.analyzer.Count(),
		Vitals:          p.vitals.Latest(),
	}

	p.buildComponents(time.Now())
	p.frameMu.Lock()
	p.latestFrame = nil
	p.processedSeq = p.frameSeq
	p.frameMu.Unlock()

	snapshot := p.metrics.GetSnapshot()
	p.logger.Info("PPG session stopped",
		zap.String("session_id", summary.SessionID),
		zap.Int("final_bpm", summary.FinalBPM),
		zap.Int("beat_count", summary.BeatCount),
		zap.Int("arrhythmia_count", summary.ArrhythmiaCount),
		zap.Int64("frames_processed", snapshot.FramesProcessed),
		zap.Int64("frames_dropped", snapshot.FramesDropped),
	)
	return summary, nil
}

// Reset 清空全部信号状态（包括波形模板和心律失常基线），会话保持运行
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sampler.Reset()
	p.quality.Reset()
	p.filter.Reset()
	p.detector.Reset()
	p.analyzer.Reset()
	p.vitals.Reset()
	p.samples.Reset()
	p.lastSample = models.SignalSample{}
	p.lastArrhythmia = arrhythmia.Result{}
	p.logger.Info("PPG pipeline reset", zap.String("session_id", p.sessionID))
}

// Calibrate 重新初始化滤波器和检测基线，保留已学习的波形模板
func (p *Pipeline) Calibrate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filter.Reset()
	p.quality.Reset()
	p.detector.Recalibrate()
	p.samples.Reset()
	p.logger.Info("PPG pipeline recalibrated", zap.String("session_id", p.sessionID))
}

// SubmitFrame 提交一帧；未处理的旧帧被直接覆盖
func (p *Pipeline) SubmitFrame(frame *models.RawFrame) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	p.frameMu.Lock()
	dropped := p.frameSeq > p.processedSeq
	p.latestFrame = frame
	p.frameSeq++
	p.frameMu.Unlock()

	p.metrics.incSubmitted(dropped)
	return nil
}

// Running 会话是否在运行
func (p *Pipeline) Running() bool { return p.running.Load() }

// DeviceID 设备ID
func (p *Pipeline) DeviceID() string { return p.deviceID }

// SessionID 当前会话ID（未启动时为空）
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// StartedAt 当前会话开始时间
func (p *Pipeline) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Metrics 统计快照
func (p *Pipeline) Metrics() Metrics { return p.metrics.GetSnapshot() }

// Snapshot 当前实时数据
func (p *Pipeline) Snapshot() *models.RealtimeData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() *models.RealtimeData {
	return &models.RealtimeData{
		SessionID:        p.sessionID,
		DeviceID:         p.deviceID,
		Sample:           p.lastSample,
		BPM:              p.detector.BPM(),
		Confidence:       p.detector.Confidence(),
		ArrhythmiaStatus: p.lastArrhythmia.Status,
		ArrhythmiaCount:  p.analyzer.Count(),
		Vitals:           p.vitals.Latest(),
		Timestamp:        p.lastSample.Timestamp,
	}
}

// loop 定时处理最新一帧，ctx 取消后退出
func (p *Pipeline) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(p.tuning.Pipeline.FrameIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := p.takeFrame()
			if frame == nil {
				continue
			}
			if _, err := p.ProcessFrame(frame); err != nil && !errors.Is(err, ErrNotRunning) {
				p.logger.Warn("Frame processing failed", zap.Error(err))
			}
		}
	}
}

// takeFrame 取出尚未处理的最新帧
func (p *Pipeline) takeFrame() *models.RawFrame {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	if p.frameSeq == p.processedSeq || p.latestFrame == nil {
		return nil
	}
	p.processedSeq = p.frameSeq
	frame := p.latestFrame
	p.latestFrame = nil
	return frame
}

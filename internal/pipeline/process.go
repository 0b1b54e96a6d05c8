package pipeline

import (
	"context"
	"fmt"
	"time"

	"wisefido-ppg/internal/arrhythmia"
	"wisefido-ppg/internal/beat"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/vitals"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessFrame 同步处理一帧：采样 → 滤波 → 心跳检测 → 心律失常 → 体征
// panic 被恢复并记录，会话继续
func (p *Pipeline) ProcessFrame(frame *models.RawFrame) (sample models.SignalSample, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return models.SignalSample{}, ErrNotRunning
	}
	defer p.recoverFrame(&err)

	res := p.sampler.Sample(frame)
	if !res.Valid {
		// 无效帧沿用上一个原始值
		ts := p.lastSample.Timestamp
		if frame != nil {
			ts = frame.Timestamp
		}
		return p.step(ts, p.lastSample.RawValue, false), nil
	}
	if res.FingerDetected {
		p.vitals.Observe(res.RedMean, res.BlueValue)
	}
	return p.step(frame.Timestamp, res.RedValue, res.FingerDetected), nil
}

// ProcessValue 跳过帧采样，直接处理一个标量（离线回放）
// 手指检测仅由信号质量决定
func (p *Pipeline) ProcessValue(ts int64, raw float64) (sample models.SignalSample, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return models.SignalSample{}, ErrNotRunning
	}
	defer p.recoverFrame(&err)

	return p.step(ts, raw, true), nil
}

func (p *Pipeline) recoverFrame(err *error) {
	if r := recover(); r != nil {
		p.metrics.incFailed()
		p.logger.Error("Recovered from panic in frame processing",
			zap.String("session_id", p.sessionID),
			zap.Any("panic", r),
		)
		*err = fmt.Errorf("frame processing panicked: %v", r)
	}
}

// step 单个样本的处理；调用方持有 mu
func (p *Pipeline) step(ts int64, raw float64, fingerHint bool) models.SignalSample {
	filtered := p.filter.Process(raw, fingerHint)
	quality := p.quality.Push(filtered)

	sample := models.SignalSample{
		Timestamp:      ts,
		RawValue:       raw,
		FilteredValue:  filtered,
		Quality:        quality,
		FingerDetected: fingerHint && quality > 0,
	}
	p.samples.Push(sample)
	p.lastSample = sample
	p.metrics.incProcessed()

	det := p.detector.Process(filtered, ts)
	if det.IsPeak && sample.FingerDetected {
		p.onBeat(ts, det)
	}

	now := time.UnixMilli(ts)
	if p.analysisLimiter.AllowN(now, 1) {
		p.vitals.Update(vitals.Features{
			Timestamp:       ts,
			BPM:             p.detector.BPM(),
			RMSSD:           p.lastArrhythmia.RMSSD,
			ArrhythmiaTrend: p.analyzer.Trend(),
		})
	}
	if p.publishLimiter.AllowN(now, 1) {
		p.publish(sample)
	}
	return sample
}

// onBeat 确认心跳后的输出：提示音、beat stream、心律失常分析
func (p *Pipeline) onBeat(ts int64, det beat.Result) {
	p.metrics.incBeat()
	p.vitals.ObserveBeat(*det.Beat)
	p.notify()

	if p.deps.Sink != nil {
		payload := &models.BeatPayload{
			SessionID: p.sessionID,
			DeviceID:  p.deviceID,
			Beat:      *det.Beat,
			BPM:       det.BPM,
		}
		if err := p.deps.Sink.PublishBeat(p.ctx(), payload); err != nil {
			p.publishFailed("beat", err)
		}
	}

	result, rr := analyzeLatest(p.analyzer, p.detector.RecentBeats(), p.tuning.Pipeline.RRBatchSize, ts)
	p.lastArrhythmia = result

	if p.deps.Sink != nil {
		payload := &models.ArrhythmiaPayload{
			SessionID:       p.sessionID,
			DeviceID:        p.deviceID,
			Timestamp:       ts,
			Classification:  result.ArrhythmiaClassification,
			Rule:            result.Rule,
			Counted:         result.Counted,
			Count:           result.Count,
			IsLearningPhase: result.IsLearningPhase,
			Status:          result.Status,
		}
		if err := p.deps.Sink.PublishArrhythmia(p.ctx(), payload); err != nil {
			p.publishFailed("arrhythmia", err)
		}
	}

	if result.Counted {
		p.metrics.incArrhythmia()
		p.recordArrhythmia(ts, rr, result)
	}
}

// analyzeLatest 用最近 batchSize 个间期分析最新心跳
// 最新心跳的间期无效（如漏检后的长间隔）时只刷新状态，不重复分析更早的心跳
func analyzeLatest(a *arrhythmia.Analyzer, beats []models.BeatEvent, batchSize int, ts int64) (arrhythmia.Result, []float64) {
	if n := batchSize + 1; len(beats) > n {
		beats = beats[len(beats)-n:]
	}
	rr, amplitudes, current := beat.RRBatch(beats)
	if !current {
		rr, amplitudes = nil, nil
	}
	return a.Analyze(rr, amplitudes, ts), rr
}

func (p *Pipeline) recordArrhythmia(ts int64, rr []float64, result arrhythmia.Result) {
	p.logger.Info("Arrhythmia counted",
		zap.String("session_id", p.sessionID),
		zap.String("rule", result.Rule),
		zap.Float64("confidence", result.Confidence),
		zap.Int("count", result.Count),
	)
	if p.deps.Recorder == nil {
		return
	}
	event := &models.ArrhythmiaEvent{
		EventID:     uuid.New().String(),
		SessionID:   p.sessionID,
		Rule:        result.Rule,
		Confidence:  result.Confidence,
		RMSSD:       result.RMSSD,
		TriggeredAt: time.UnixMilli(ts),
	}
	if len(rr) > 0 {
		event.RRInterval = rr[len(rr)-1]
	}
	if err := p.deps.Recorder.RecordArrhythmiaEvent(p.ctx(), event); err != nil {
		p.publishFailed("arrhythmia_event", err)
	}
}

// notify 提示音异步发送，失败只记录日志
func (p *Pipeline) notify() {
	if p.deps.Notifier == nil {
		return
	}
	ctx, sessionID := p.ctx(), p.sessionID
	go func() {
		if err := p.deps.Notifier.Beep(ctx, p.deviceID); err != nil {
			p.metrics.incPublishError()
			p.logger.Warn("Failed to beep",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}()
}

func (p *Pipeline) publish(sample models.SignalSample) {
	if p.deps.Sink == nil {
		return
	}
	ctx := p.ctx()
	if err := p.deps.Sink.PublishSample(ctx, p.sessionID, p.deviceID, sample); err != nil {
		p.publishFailed("sample", err)
	}
	if err := p.deps.Sink.UpdateRealtime(ctx, p.snapshotLocked()); err != nil {
		p.publishFailed("realtime", err)
	}
}

func (p *Pipeline) publishFailed(kind string, err error) {
	p.metrics.incPublishError()
	p.logger.Warn("Failed to publish",
		zap.String("kind", kind),
		zap.String("session_id", p.sessionID),
		zap.Error(err),
	)
}

func (p *Pipeline) ctx() context.Context {
	if p.runCtx != nil {
		return p.runCtx
	}
	return context.Background()
}

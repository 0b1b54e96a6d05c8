package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/pipeline"

	"go.uber.org/zap"
)

// SessionStore 会话持久化（repository.SessionRepository 实现）
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.MeasurementSession) error
	CompleteSession(ctx context.Context, sessionID string, endedAt time.Time,
		finalBPM, beatCount, arrhythmiaCount int, vitals models.VitalSigns) error
}

// RealtimeCleaner 会话结束时清理实时缓存（sink.CacheManager 实现）
type RealtimeCleaner interface {
	DeleteRealtimeData(ctx context.Context, sessionID string) error
}

// SessionManager 按设备维护流水线，每个设备同一时间最多一个会话
type SessionManager struct {
	tuning config.Tuning
	deps   pipeline.Dependencies
	store  SessionStore
	cache  RealtimeCleaner
	logger *zap.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

// NewSessionManager 创建会话管理器；store 和 cache 可为 nil
func NewSessionManager(
	tuning config.Tuning,
	deps pipeline.Dependencies,
	store SessionStore,
	cache RealtimeCleaner,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		tuning:    tuning,
		deps:      deps,
		store:     store,
		cache:     cache,
		logger:    logger,
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// pipelineFor 取设备的流水线，不存在时创建
func (m *SessionManager) pipelineFor(deviceID string) *pipeline.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[deviceID]
	if !ok {
		p = pipeline.New(deviceID, m.tuning, m.deps, m.logger)
		m.pipelines[deviceID] = p
	}
	return p
}

func (m *SessionManager) lookup(deviceID string) (*pipeline.Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[deviceID]
	return p, ok
}

// StartSession 启动设备会话并写入会话记录
func (m *SessionManager) StartSession(ctx context.Context, deviceID string) error {
	p := m.pipelineFor(deviceID)
	if err := p.Start(ctx); err != nil {
		return err
	}

	if m.store != nil {
		session := &models.MeasurementSession{
			SessionID: p.SessionID(),
			DeviceID:  deviceID,
			Status:    models.SessionStatusActive,
			StartedAt: p.StartedAt(),
		}
		// 数据库不可用不影响测量本身
		if err := m.store.CreateSession(ctx, session); err != nil {
			m.logger.Error("Failed to persist session",
				zap.String("device_id", deviceID),
				zap.String("session_id", session.SessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// StopSession 停止设备会话，写入汇总并清理实时缓存
func (m *SessionManager) StopSession(ctx context.Context, deviceID string) error {
	_, err := m.stop(ctx, deviceID)
	return err
}

func (m *SessionManager) stop(ctx context.Context, deviceID string) (*pipeline.Summary, error) {
	p, ok := m.lookup(deviceID)
	if !ok {
		return nil, pipeline.ErrNotRunning
	}

	summary, err := p.Stop(ctx)
	if err != nil {
		return nil, err
	}

	if m.store != nil {
		if err := m.store.CompleteSession(ctx, summary.SessionID, summary.EndedAt,
			summary.FinalBPM, summary.BeatCount, summary.ArrhythmiaCount, summary.Vitals); err != nil {
			m.logger.Error("Failed to persist session summary",
				zap.String("session_id", summary.SessionID),
				zap.Error(err),
			)
		}
	}
	if m.cache != nil {
		if err := m.cache.DeleteRealtimeData(ctx, summary.SessionID); err != nil {
			m.logger.Warn("Failed to delete realtime data",
				zap.String("session_id", summary.SessionID),
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

// ResetSession 清空设备会话的信号状态
func (m *SessionManager) ResetSession(deviceID string) error {
	p, ok := m.lookup(deviceID)
	if !ok || !p.Running() {
		return pipeline.ErrNotRunning
	}
	p.Reset()
	return nil
}

// CalibrateSession 重新校准设备会话
func (m *SessionManager) CalibrateSession(deviceID string) error {
	p, ok := m.lookup(deviceID)
	if !ok || !p.Running() {
		return pipeline.ErrNotRunning
	}
	p.Calibrate()
	return nil
}

// SubmitFrame 把帧交给设备的流水线；未开始测量的设备的帧直接丢弃
func (m *SessionManager) SubmitFrame(deviceID string, frame *models.RawFrame) error {
	p, ok := m.lookup(deviceID)
	if !ok {
		return nil
	}
	if err := p.SubmitFrame(frame); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		return err
	}
	return nil
}

// ActiveDevices 正在测量的设备（排序）
func (m *SessionManager) ActiveDevices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]string, 0, len(m.pipelines))
	for id, p := range m.pipelines {
		if p.Running() {
			devices = append(devices, id)
		}
	}
	sort.Strings(devices)
	return devices
}

// StopAll 停止所有会话（服务退出时调用）
func (m *SessionManager) StopAll(ctx context.Context) {
	for _, deviceID := range m.ActiveDevices() {
		if _, err := m.stop(ctx, deviceID); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			m.logger.Error("Failed to stop session",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}
}

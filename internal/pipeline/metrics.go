package pipeline

import (
	"sync"
	"time"
)

// Metrics 会话处理统计
type Metrics struct {
	mu sync.RWMutex

	// 帧统计
	FramesSubmitted int64 // 提交的帧数
	FramesProcessed int64 // 处理的帧数
	FramesDropped   int64 // 未处理就被新帧覆盖的帧数
	FramesFailed    int64 // 处理中 panic 被恢复的帧数

	// 输出统计
	BeatsConfirmed     int64
	ArrhythmiasCounted int64
	PublishErrors      int64 // sink / 设备命令失败次数

	LastProcessTime time.Time
	StartTime       time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		FramesSubmitted:    m.FramesSubmitted,
		FramesProcessed:    m.FramesProcessed,
		FramesDropped:      m.FramesDropped,
		FramesFailed:       m.FramesFailed,
		BeatsConfirmed:     m.BeatsConfirmed,
		ArrhythmiasCounted: m.ArrhythmiasCounted,
		PublishErrors:      m.PublishErrors,
		LastProcessTime:    m.LastProcessTime,
		StartTime:          m.StartTime,
	}
}

func (m *Metrics) incSubmitted(dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesSubmitted++
	if dropped {
		m.FramesDropped++
	}
}

func (m *Metrics) incProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesProcessed++
	m.LastProcessTime = time.Now()
}

func (m *Metrics) incFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesFailed++
}

func (m *Metrics) incBeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BeatsConfirmed++
}

func (m *Metrics) incArrhythmia() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArrhythmiasCounted++
}

func (m *Metrics) incPublishError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErrors++
}

func (m *Metrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesSubmitted = 0
	m.FramesProcessed = 0
	m.FramesDropped = 0
	m.FramesFailed = 0
	m.BeatsConfirmed = 0
	m.ArrhythmiasCounted = 0
	m.PublishErrors = 0
	m.LastProcessTime = time.Time{}
	m.StartTime = time.Now()
}

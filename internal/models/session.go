package models

import "time"

// 会话状态
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// RealtimeData 会话实时快照（写入 Redis 缓存，供 UI 读取）
type RealtimeData struct {
	SessionID        string       `json:"session_id"`
	DeviceID         string       `json:"device_id"`
	Sample           SignalSample `json:"sample"`
	BPM              int          `json:"bpm"`
	Confidence       float64      `json:"confidence"`
	ArrhythmiaStatus string       `json:"arrhythmia_status"`
	ArrhythmiaCount  int          `json:"arrhythmia_count"`
	Vitals           VitalSigns   `json:"vitals"`
	Timestamp        int64        `json:"timestamp"`
}

// MeasurementSession 测量会话（对应 ppg_sessions 表）
type MeasurementSession struct {
	SessionID       string     `json:"session_id" db:"session_id"`
	DeviceID        string     `json:"device_id" db:"device_id"`
	Status          string     `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	FinalBPM        *int       `json:"final_bpm,omitempty" db:"final_bpm"`
	BeatCount       int        `json:"beat_count" db:"beat_count"`
	ArrhythmiaCount int        `json:"arrhythmia_count" db:"arrhythmia_count"`
	Vitals          string     `json:"vitals" db:"vitals"` // JSONB
}

// ArrhythmiaEvent 计数的心律失常事件（对应 ppg_arrhythmia_events 表）
type ArrhythmiaEvent struct {
	EventID     string    `json:"event_id" db:"event_id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	Rule        string    `json:"rule" db:"rule"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	RRInterval  float64   `json:"rr_interval" db:"rr_interval"`
	RMSSD       float64   `json:"rmssd" db:"rmssd"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
}

package models

// RR 间期有效范围（毫秒），约对应 30-220 BPM；范围外的间期直接丢弃，不做截断
const (
	MinRRIntervalMs = 273
	MaxRRIntervalMs = 2000
)

// ValidRRInterval 间期是否在有效范围内
func ValidRRInterval(ms float64) bool {
	return ms >= MinRRIntervalMs && ms <= MaxRRIntervalMs
}

// SignalSample 每帧处理结果（只保留有限的尾部窗口）
type SignalSample struct {
	Timestamp      int64   `json:"timestamp"`
	RawValue       float64 `json:"raw_value"`
	FilteredValue  float64 `json:"filtered_value"`
	Quality        int     `json:"quality"` // 0-100
	FingerDetected bool    `json:"finger_detected"`
}

// BeatEvent 确认的心跳（每个不应期内最多一个）
type BeatEvent struct {
	Time            int64   `json:"time"`
	Amplitude       float64 `json:"amplitude"`
	Confidence      float64 `json:"confidence"` // 0-1
	IsConfirmedPeak bool    `json:"is_confirmed_peak"`
}

// BeatPayload 推送到 beat stream 的内容
type BeatPayload struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	Beat      BeatEvent `json:"beat"`
	BPM       int       `json:"bpm"`
}

// SamplePayload 推送到 signal stream 的内容
type SamplePayload struct {
	SessionID string       `json:"session_id"`
	DeviceID  string       `json:"device_id"`
	Sample    SignalSample `json:"sample"`
}

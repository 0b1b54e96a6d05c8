package models

// BaselineState 心律失常分析的生理基线（仅分析器内部修改）
type BaselineState struct {
	BaselineRRInterval  float64 `json:"baseline_rr_interval"`
	BaselineAmplitude   float64 `json:"baseline_amplitude"`
	LearningPhaseActive bool    `json:"learning_phase_active"`
	LearningStartTime   int64   `json:"learning_start_time"`
}

// ArrhythmiaClassification 单个心跳的分类结果
type ArrhythmiaClassification struct {
	IsPremature bool    `json:"is_premature"`
	Confidence  float64 `json:"confidence"`
	RMSSD       float64 `json:"rmssd"`
	RRVariation float64 `json:"rr_variation"`
}

// ArrhythmiaPayload 推送到 arrhythmia stream 的内容
type ArrhythmiaPayload struct {
	SessionID       string                   `json:"session_id"`
	DeviceID        string                   `json:"device_id"`
	Timestamp       int64                    `json:"timestamp"`
	Classification  ArrhythmiaClassification `json:"classification"`
	Rule            string                   `json:"rule,omitempty"`
	Counted         bool                     `json:"counted"`
	Count           int                      `json:"count"`
	IsLearningPhase bool                     `json:"is_learning_phase"`
	Status          string                   `json:"status"` // LEARNING|<sec> / NONE|<count> / DETECTED|<count>
}

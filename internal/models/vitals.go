package models

// VitalSigns 衍生体征（0 表示尚无结果）
type VitalSigns struct {
	SpO2             float64 `json:"spo2"`
	Systolic         int     `json:"systolic"`
	Diastolic        int     `json:"diastolic"`
	RespirationRate  float64 `json:"respiration_rate"`
	RespirationDepth float64 `json:"respiration_depth"`
	Glucose          float64 `json:"glucose"`
	TotalCholesterol float64 `json:"total_cholesterol"`
	Triglycerides    float64 `json:"triglycerides"`
	Hemoglobin       float64 `json:"hemoglobin"`
	PerfusionIndex   float64 `json:"perfusion_index"`
	ArrhythmiaTrend  float64 `json:"arrhythmia_trend"`
	UpdatedAt        int64   `json:"updated_at"`
}

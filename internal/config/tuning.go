package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Tuning 信号处理全部可调参数
// 各实现版本之间阈值差异很大，这里固定一套默认值，通过 TOML 文件覆盖，不需要改代码
type Tuning struct {
	Sampler    SamplerTuning    `toml:"sampler"`
	Filter     FilterTuning     `toml:"filter"`
	Beat       BeatTuning       `toml:"beat"`
	Arrhythmia ArrhythmiaTuning `toml:"arrhythmia"`
	Vitals     VitalsTuning     `toml:"vitals"`
	Pipeline   PipelineTuning   `toml:"pipeline"`
}

// SamplerTuning 帧采样（ROI + 手指检测）参数
type SamplerTuning struct {
	ROIFraction         float64 `toml:"roi_fraction"`          // 未检测到手指时 ROI 占宽高比例
	AdaptiveROIFraction float64 `toml:"adaptive_roi_fraction"` // 检测到手指后收缩的 ROI 比例
	RedDominanceRatio   float64 `toml:"red_dominance_ratio"`   // red 必须大于 green/blue 的倍数
	MinRed              float64 `toml:"min_red"`
	MaxRed              float64 `toml:"max_red"`
	FramesToDetect      int     `toml:"frames_to_detect"` // 连续有效帧数 → detected
	FramesToLose        int     `toml:"frames_to_lose"`   // 连续无效帧数 → not detected
	LoseTimeoutMs       int64   `toml:"lose_timeout_ms"`
	QualityWindow       int     `toml:"quality_window"`
	GoodAmplitude       float64 `toml:"good_amplitude"` // 该幅度及以上质量记满分
	MinAmplitude        float64 `toml:"min_amplitude"`  // 低于该幅度视为平线，质量为 0
}

// FilterTuning 自适应滤波链参数
type FilterTuning struct {
	MedianWindow          int     `toml:"median_window"`
	MovingAverageWindow   int     `toml:"moving_average_window"`
	EMAAlpha              float64 `toml:"ema_alpha"`
	BaselineDecay         float64 `toml:"baseline_decay"`
	BaselineDecayNoFinger float64 `toml:"baseline_decay_no_finger"`
	VerticalScale         float64 `toml:"vertical_scale"`
}

// BeatTuning 心跳检测状态机参数
type BeatTuning struct {
	WarmupMs            int64   `toml:"warmup_ms"`
	MinPeakIntervalMs   int64   `toml:"min_peak_interval_ms"`
	WindowSize          int     `toml:"window_size"`
	DerivativeThreshold float64 `toml:"derivative_threshold"` // 负值
	AmplitudeThreshold  float64 `toml:"amplitude_threshold"`
	BaselineFactor      float64 `toml:"baseline_factor"`
	BaselineAlpha       float64 `toml:"baseline_alpha"`
	MinConfidence       float64 `toml:"min_confidence"`
	AmplitudeWeight     float64 `toml:"amplitude_weight"`
	DerivativeWeight    float64 `toml:"derivative_weight"`
	StabilityWeight     float64 `toml:"stability_weight"`
	MinBPM              float64 `toml:"min_bpm"`
	MaxBPM              float64 `toml:"max_bpm"`
	BPMHistorySize      int     `toml:"bpm_history_size"`
	SessionHistorySize  int     `toml:"session_history_size"`
	TemplateLength      int     `toml:"template_length"`
	MaxTemplates        int     `toml:"max_templates"`
	TemplateSimilarity  float64 `toml:"template_similarity"`
	TemplateBlend       float64 `toml:"template_blend"` // 新样本权重，0.2 即 80/20 融合
	JitterToleranceMs   float64 `toml:"jitter_tolerance_ms"`
	PeakHistorySize     int     `toml:"peak_history_size"`
}

// ArrhythmiaTuning 心律失常分析参数
type ArrhythmiaTuning struct {
	LearningPeriodMs      int64   `toml:"learning_period_ms"`
	MinBaselineSamples    int     `toml:"min_baseline_samples"`
	BaselineWindow        int     `toml:"baseline_window"`
	BaselineTrimFraction  float64 `toml:"baseline_trim_fraction"` // 两端各去掉的比例，0.15 即保留中间 70%
	ShortFactor           float64 `toml:"short_factor"`
	CompensatoryFactor    float64 `toml:"compensatory_factor"`
	LowAmplitudeFactor    float64 `toml:"low_amplitude_factor"`
	SmallAmplitudeFactor  float64 `toml:"small_amplitude_factor"`
	NormalTolerance       float64 `toml:"normal_tolerance"`
	NormalAmplitudeFactor float64 `toml:"normal_amplitude_factor"`
	RRVariationThreshold  float64 `toml:"rr_variation_threshold"`
	RRVariationAmpFactor  float64 `toml:"rr_variation_amp_factor"`
	MinNormalRun          int     `toml:"min_normal_run"`
	MinConfidence         float64 `toml:"min_confidence"`
	MinTimeBetweenMs      int64   `toml:"min_time_between_ms"`
	MaxCount              int     `toml:"max_count"`
	HistorySize           int     `toml:"history_size"`
	ClassicConfidence     float64 `toml:"classic_confidence"`
	IsolatedConfidence    float64 `toml:"isolated_confidence"`
	GenericConfidence     float64 `toml:"generic_confidence"`
	SmallAmpConfidence    float64 `toml:"small_amp_confidence"`
	RRVariationConfidence float64 `toml:"rr_variation_confidence"`
}

// VitalsTuning 衍生体征估算参数
type VitalsTuning struct {
	WindowSize          int `toml:"window_size"`
	RespirationWindow   int `toml:"respiration_window"`
	SpO2SmoothingWindow int `toml:"spo2_smoothing_window"`
}

// PipelineTuning 调度与节流参数
type PipelineTuning struct {
	FrameIntervalMs    int64   `toml:"frame_interval_ms"`
	MaxPublishHz       float64 `toml:"max_publish_hz"`
	AnalysisCooldownMs int64   `toml:"analysis_cooldown_ms"`
	RRBatchSize        int     `toml:"rr_batch_size"`
}

// DefaultTuning 返回默认参数
func DefaultTuning() Tuning {
	return Tuning{
		Sampler: SamplerTuning{
			ROIFraction:         0.30,
			AdaptiveROIFraction: 0.25,
			RedDominanceRatio:   1.10,
			MinRed:              40,
			MaxRed:              250,
			FramesToDetect:      5,
			FramesToLose:        10,
			LoseTimeoutMs:       1000,
			QualityWindow:       30,
			GoodAmplitude:       1.0,
			MinAmplitude:        0.05,
		},
		Filter: FilterTuning{
			MedianWindow:          5,
			MovingAverageWindow:   5,
			EMAAlpha:              0.25,
			BaselineDecay:         0.995,
			BaselineDecayNoFinger: 0.8,
			VerticalScale:         1.0,
		},
		Beat: BeatTuning{
			WarmupMs:            2000,
			MinPeakIntervalMs:   300,
			WindowSize:          90,
			DerivativeThreshold: -0.05,
			AmplitudeThreshold:  0.30,
			BaselineFactor:      1.0,
			BaselineAlpha:       0.01,
			MinConfidence:       0.60,
			AmplitudeWeight:     0.4,
			DerivativeWeight:    0.3,
			StabilityWeight:     0.3,
			MinBPM:              40,
			MaxBPM:              200,
			BPMHistorySize:      12,
			SessionHistorySize:  600,
			TemplateLength:      12,
			MaxTemplates:        3,
			TemplateSimilarity:  0.85,
			TemplateBlend:       0.2,
			JitterToleranceMs:   80,
			PeakHistorySize:     20,
		},
		Arrhythmia: ArrhythmiaTuning{
			LearningPeriodMs:      5000,
			MinBaselineSamples:    5,
			BaselineWindow:        20,
			BaselineTrimFraction:  0.15,
			ShortFactor:           0.8,
			CompensatoryFactor:    1.1,
			LowAmplitudeFactor:    0.7,
			SmallAmplitudeFactor:  0.55,
			NormalTolerance:       0.15,
			NormalAmplitudeFactor: 0.8,
			RRVariationThreshold:  0.35,
			RRVariationAmpFactor:  0.8,
			MinNormalRun:          3,
			MinConfidence:         0.70,
			MinTimeBetweenMs:      1000,
			MaxCount:              15,
			HistorySize:           20,
			ClassicConfidence:     0.90,
			IsolatedConfidence:    0.80,
			GenericConfidence:     0.78,
			SmallAmpConfidence:    0.73,
			RRVariationConfidence: 0.82,
		},
		Vitals: VitalsTuning{
			WindowSize:          90,
			RespirationWindow:   30,
			SpO2SmoothingWindow: 4,
		},
		Pipeline: PipelineTuning{
			FrameIntervalMs:    33,
			MaxPublishHz:       30,
			AnalysisCooldownMs: 250,
			RRBatchSize:        8,
		},
	}
}

// LoadTuning 在默认值之上叠加 TOML 文件中出现的字段
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning, fmt.Errorf("failed to read tuning file: %w", err)
	}
	if _, err := toml.Decode(string(data), &tuning); err != nil {
		return tuning, fmt.Errorf("failed to parse tuning file: %w", err)
	}
	if err := tuning.Validate(); err != nil {
		return tuning, err
	}
	return tuning, nil
}

// Validate 检查会导致算法失效的参数组合
func (t *Tuning) Validate() error {
	switch {
	case t.Filter.MedianWindow < 1 || t.Filter.MovingAverageWindow < 1:
		return fmt.Errorf("filter windows must be positive")
	case t.Filter.EMAAlpha <= 0 || t.Filter.EMAAlpha > 1:
		return fmt.Errorf("filter.ema_alpha must be in (0,1]")
	case t.Beat.MinPeakIntervalMs <= 0:
		return fmt.Errorf("beat.min_peak_interval_ms must be positive")
	case t.Beat.DerivativeThreshold >= 0:
		return fmt.Errorf("beat.derivative_threshold must be negative")
	case t.Beat.WindowSize < t.Beat.TemplateLength || t.Beat.TemplateLength < 3:
		return fmt.Errorf("beat.window_size must cover beat.template_length (>= 3)")
	case t.Arrhythmia.MinBaselineSamples < 1:
		return fmt.Errorf("arrhythmia.min_baseline_samples must be positive")
	case t.Pipeline.FrameIntervalMs <= 0:
		return fmt.Errorf("pipeline.frame_interval_ms must be positive")
	}
	return nil
}

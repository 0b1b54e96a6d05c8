package sampler

import (
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
)

// gridCells 未检测到手指时搜索 ROI 的网格边长
const gridCells = 3

// gridStride 网格搜索时的像素抽样步长
const gridStride = 4

// Result 单帧采样结果
type Result struct {
	RedValue       float64    `json:"red_value"` // 红色不占优时为 0
	RedMean        float64    `json:"red_mean"`  // ROI 红色通道均值（不清零）
	GreenValue     float64    `json:"green_value"`
	BlueValue      float64    `json:"blue_value"`
	RedDominant    bool       `json:"red_dominant"`
	InRange        bool       `json:"in_range"`
	FingerDetected bool       `json:"finger_detected"`
	ROI            models.ROI `json:"roi"`
	Valid          bool       `json:"valid"` // 帧可用；为 false 时其余字段均为零值
}

// Sampler 从帧中提取 ROI 通道均值并做手指检测（带迟滞）
type Sampler struct {
	tuning config.SamplerTuning

	detected     bool
	goodStreak   int
	badStreak    int
	lastGoodTime int64

	// 检测到手指后锁定的 ROI 中心
	centerX, centerY float64
	locked           bool
}

// NewSampler 创建采样器
func NewSampler(tuning config.SamplerTuning) *Sampler {
	return &Sampler{tuning: tuning}
}

// Sample 处理一帧。帧无效（尺寸为 0、像素不足）时返回零值结果，不更新检测状态
func (s *Sampler) Sample(frame *models.RawFrame) Result {
	if !validFrame(frame) {
		return Result{}
	}

	roi := s.selectROI(frame)
	r, g, b, ok := channelMeans(frame, roi)
	if !ok {
		return Result{}
	}

	res := Result{
		Valid:      true,
		RedMean:    r,
		GreenValue: g,
		BlueValue:  b,
		ROI:        roi,
	}
	res.RedDominant = r > s.tuning.RedDominanceRatio*g && r > s.tuning.RedDominanceRatio*b
	if res.RedDominant {
		res.RedValue = r
	}
	res.InRange = r >= s.tuning.MinRed && r <= s.tuning.MaxRed

	s.updateDetection(res.RedDominant && res.InRange, frame.Timestamp)
	res.FingerDetected = s.detected
	return res
}

// Detected 当前手指检测状态
func (s *Sampler) Detected() bool { return s.detected }

// Reset 清空检测状态和 ROI 锁定
func (s *Sampler) Reset() {
	s.detected = false
	s.goodStreak = 0
	s.badStreak = 0
	s.lastGoodTime = 0
	s.locked = false
	s.centerX, s.centerY = 0, 0
}

func (s *Sampler) updateDetection(good bool, ts int64) {
	if good {
		s.goodStreak++
		s.badStreak = 0
		s.lastGoodTime = ts
		if !s.detected && s.goodStreak >= s.tuning.FramesToDetect {
			s.detected = true
		}
		return
	}

	s.badStreak++
	s.goodStreak = 0
	if !s.detected {
		return
	}
	timedOut := s.tuning.LoseTimeoutMs > 0 && ts-s.lastGoodTime >= s.tuning.LoseTimeoutMs
	if s.badStreak >= s.tuning.FramesToLose || timedOut {
		s.detected = false
		s.locked = false
	}
}

func (s *Sampler) selectROI(frame *models.RawFrame) models.ROI {
	if s.detected {
		if !s.locked {
			s.centerX, s.centerY = s.lastCenter(frame)
			s.locked = true
		}
		return centeredROI(frame, s.centerX, s.centerY, s.tuning.AdaptiveROIFraction)
	}

	cx, cy := bestGridCenter(frame, s.tuning.RedDominanceRatio)
	s.centerX, s.centerY = cx, cy
	return centeredROI(frame, cx, cy, s.tuning.ROIFraction)
}

func (s *Sampler) lastCenter(frame *models.RawFrame) (float64, float64) {
	if s.centerX == 0 && s.centerY == 0 {
		return float64(frame.Width) / 2, float64(frame.Height) / 2
	}
	return s.centerX, s.centerY
}

func validFrame(frame *models.RawFrame) bool {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return false
	}
	if frame.Channels != 3 && frame.Channels != 4 {
		return false
	}
	return len(frame.Pixels) >= frame.Width*frame.Height*frame.Channels
}

// centeredROI 以 (cx, cy) 为中心、边长为帧宽高 fraction 的矩形，裁剪到帧内
func centeredROI(frame *models.RawFrame, cx, cy, fraction float64) models.ROI {
	w := int(float64(frame.Width) * fraction)
	h := int(float64(frame.Height) * fraction)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x := int(cx) - w/2
	y := int(cy) - h/2
	x = clampInt(x, 0, frame.Width-w)
	y = clampInt(y, 0, frame.Height-h)
	return models.ROI{X: x, Y: y, Width: w, Height: h}
}

// bestGridCenter 在 3x3 网格中找红色占优比最高的单元，返回其中心
func bestGridCenter(frame *models.RawFrame, ratio float64) (float64, float64) {
	cellW := frame.Width / gridCells
	cellH := frame.Height / gridCells
	cx, cy := float64(frame.Width)/2, float64(frame.Height)/2
	if cellW == 0 || cellH == 0 {
		return cx, cy
	}

	// 中心单元优先：其他单元必须严格更好
	best := -1.0
	order := []int{4, 0, 1, 2, 3, 5, 6, 7, 8}
	for _, cell := range order {
		col, row := cell%gridCells, cell/gridCells
		roi := models.ROI{X: col * cellW, Y: row * cellH, Width: cellW, Height: cellH}
		r, g, b, ok := sampledMeans(frame, roi, gridStride)
		if !ok {
			continue
		}
		denom := g
		if b > denom {
			denom = b
		}
		score := r / (denom + 1)
		if r < ratio*g || r < ratio*b {
			score = 0
		}
		if score > best {
			best = score
			cx = float64(roi.X) + float64(cellW)/2
			cy = float64(roi.Y) + float64(cellH)/2
		}
	}
	return cx, cy
}

func channelMeans(frame *models.RawFrame, roi models.ROI) (float64, float64, float64, bool) {
	return sampledMeans(frame, roi, 1)
}

func sampledMeans(frame *models.RawFrame, roi models.ROI, stride int) (float64, float64, float64, bool) {
	if roi.Empty() {
		return 0, 0, 0, false
	}
	rowBytes := frame.Width * frame.Channels
	var sumR, sumG, sumB float64
	count := 0
	for y := roi.Y; y < roi.Y+roi.Height; y += stride {
		base := y * rowBytes
		for x := roi.X; x < roi.X+roi.Width; x += stride {
			i := base + x*frame.Channels
			if i+2 >= len(frame.Pixels) {
				continue
			}
			sumR += float64(frame.Pixels[i])
			sumG += float64(frame.Pixels[i+1])
			sumB += float64(frame.Pixels[i+2])
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0, false
	}
	n := float64(count)
	return sumR / n, sumG / n, sumB / n, true
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

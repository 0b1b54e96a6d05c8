package beat

import "wisefido-ppg/internal/models"

// CalculateRRIntervals 相邻峰时间差；超出有效范围的间期被丢弃
func CalculateRRIntervals(peakTimes []int64) []float64 {
	if len(peakTimes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(peakTimes)-1)
	for i := 1; i < len(peakTimes); i++ {
		interval := float64(peakTimes[i] - peakTimes[i-1])
		if models.ValidRRInterval(interval) {
			out = append(out, interval)
		}
	}
	return out
}

// RRBatch 从连续心跳生成 RR 间期及对应（后一个）心跳的幅度，两者等长
// 无效间期连同其幅度一起丢弃；current 表示最后一个元素是否属于最新心跳
func RRBatch(beats []models.BeatEvent) (rr, amplitudes []float64, current bool) {
	for i := 1; i < len(beats); i++ {
		interval := float64(beats[i].Time - beats[i-1].Time)
		if !models.ValidRRInterval(interval) {
			current = false
			continue
		}
		rr = append(rr, interval)
		amplitudes = append(amplitudes, beats[i].Amplitude)
		current = true
	}
	return rr, amplitudes, current
}

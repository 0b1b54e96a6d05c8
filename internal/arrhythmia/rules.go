package arrhythmia

import (
	"math"

	"wisefido-ppg/internal/config"
)

// 规则名称
const (
	RuleClassicPremature  = "classic_premature"
	RuleIsolatedPremature = "isolated_premature"
	RuleGenericAbnormal   = "generic_abnormal"
	RuleSmallAmplitude    = "small_amplitude"
	RuleRRVariation       = "rr_variation"
)

// beatContext 规则评估的输入（最近几个心跳 + 基线）
type beatContext struct {
	rr         []float64
	amplitudes []float64

	baselineRR  float64
	baselineAmp float64

	consecutiveNormal int
}

func (c *beatContext) at(back int) (rr, amp float64, ok bool) {
	i := len(c.rr) - 1 - back
	if i < 0 {
		return 0, 0, false
	}
	return c.rr[i], c.amplitudes[i], true
}

func (c *beatContext) deviation(rr float64) float64 {
	if c.baselineRR <= 0 {
		return 0
	}
	return math.Abs(rr-c.baselineRR) / c.baselineRR
}

// rule 有序规则表中的一项：纯谓词 + 固定置信度
type rule struct {
	name       string
	confidence float64
	// flagsPrevious 命中时早搏是上一个心跳而不是当前心跳
	flagsPrevious bool
	match         func(c *beatContext) bool
}

// newRules 按优先级排列，第一个命中的规则生效
func newRules(t config.ArrhythmiaTuning) []rule {
	short := func(c *beatContext, rr float64) bool { return rr < t.ShortFactor*c.baselineRR }
	lowAmp := func(c *beatContext, amp float64) bool { return amp < t.LowAmplitudeFactor*c.baselineAmp }
	normal := func(c *beatContext, rr float64) bool { return c.deviation(rr) <= t.NormalTolerance }

	return []rule{
		{
			name:          RuleClassicPremature,
			confidence:    t.ClassicConfidence,
			flagsPrevious: true,
			match: func(c *beatContext) bool {
				cur, curAmp, _ := c.at(0)
				prev, prevAmp, ok := c.at(1)
				if !ok {
					return false
				}
				_, beforeAmp, ok := c.at(2)
				if !ok {
					return false
				}
				return short(c, prev) &&
					cur > t.CompensatoryFactor*c.baselineRR &&
					prevAmp < beforeAmp && prevAmp < curAmp &&
					lowAmp(c, prevAmp)
			},
		},
		{
			name:       RuleIsolatedPremature,
			confidence: t.IsolatedConfidence,
			match: func(c *beatContext) bool {
				cur, curAmp, _ := c.at(0)
				prev, _, ok := c.at(1)
				return ok && short(c, cur) && lowAmp(c, curAmp) && normal(c, prev)
			},
		},
		{
			name:       RuleGenericAbnormal,
			confidence: t.GenericConfidence,
			match: func(c *beatContext) bool {
				cur, curAmp, _ := c.at(0)
				return short(c, cur) && lowAmp(c, curAmp) && c.consecutiveNormal >= t.MinNormalRun
			},
		},
		{
			name:       RuleSmallAmplitude,
			confidence: t.SmallAmpConfidence,
			match: func(c *beatContext) bool {
				_, curAmp, _ := c.at(0)
				return curAmp < t.SmallAmplitudeFactor*c.baselineAmp && c.consecutiveNormal >= t.MinNormalRun
			},
		},
		{
			name:       RuleRRVariation,
			confidence: t.RRVariationConfidence,
			match: func(c *beatContext) bool {
				cur, curAmp, _ := c.at(0)
				prev, _, ok := c.at(1)
				return ok &&
					c.deviation(cur) > t.RRVariationThreshold &&
					normal(c, prev) &&
					curAmp < t.RRVariationAmpFactor*c.baselineAmp
			},
		},
	}
}

// evaluate 返回第一个命中的规则
func evaluate(rules []rule, c *beatContext) (rule, bool) {
	for _, r := range rules {
		if r.match(c) {
			return r, true
		}
	}
	return rule{}, false
}

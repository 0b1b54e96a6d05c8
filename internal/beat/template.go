package beat

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// templateBank 已确认心跳的波形样本（min-max 归一化）
type templateBank struct {
	max        int
	similarity float64
	blend      float64
	exemplars  [][]float64
}

func newTemplateBank(max int, similarity, blend float64) *templateBank {
	return &templateBank{max: max, similarity: similarity, blend: blend}
}

func (b *templateBank) empty() bool { return len(b.exemplars) == 0 }

func (b *templateBank) bestSimilarity(shape []float64) float64 {
	best, _ := b.best(shape)
	return best
}

func (b *templateBank) best(shape []float64) (float64, int) {
	best, idx := -1.0, -1
	for i, ex := range b.exemplars {
		if len(ex) != len(shape) {
			continue
		}
		if s := cosine(ex, shape); s > best {
			best, idx = s, i
		}
	}
	return best, idx
}

// learn 与最相似的模板按 blend 融合；没有足够相似的模板时在有空位时新增
func (b *templateBank) learn(shape []float64) {
	if shape == nil || b.max <= 0 {
		return
	}
	sim, idx := b.best(shape)
	if idx >= 0 && sim >= b.similarity {
		ex := b.exemplars[idx]
		for i := range ex {
			ex[i] = (1-b.blend)*ex[i] + b.blend*shape[i]
		}
		return
	}
	if len(b.exemplars) < b.max {
		b.exemplars = append(b.exemplars, append([]float64(nil), shape...))
	}
}

func (b *templateBank) reset() {
	b.exemplars = nil
}

// normalizeShape min-max 归一化到 [0,1]；平线返回 nil
func normalizeShape(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	if span < 1e-12 {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// cosine 余弦相似度
func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	s := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}

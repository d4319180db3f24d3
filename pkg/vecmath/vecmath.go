// Package vecmath 向量计算工具
package vecmath

import "math"

// Cosine 余弦相似度，维度不一致或任一为零向量时返回 0
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize L2 归一化，返回新切片
func Normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out
}

// Mean 逐维平均后归一化
func Mean(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	acc := make([]float64, len(vs[0]))
	for _, v := range vs {
		if len(v) != len(acc) {
			continue
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	return Normalize(acc)
}

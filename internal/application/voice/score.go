package voice

import (
	"math"
	"sort"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/pkg/vecmath"
)

// DefaultThreshold 文风通过阈值
const DefaultThreshold = 0.88

// 各特征在距离中的权重，和为 1
const (
	wMeanLen  = 0.25
	wStdLen   = 0.10
	wBuckets  = 0.25
	wPunct    = 0.10
	wVocab    = 0.10
	wWordLen  = 0.10
	wFunction = 0.10
)

// Score 文风相似度 ∈ [0,1]：
// embeddingWeight * max(0, cos(draft, reference)) + (1-embeddingWeight) * (1 - FeatureDistance)。
// 纯函数，相同输入得到相同结果。
func Score(draft entity.StyleFeatures, draftEmbedding []float32, profile *entity.VoiceProfile, embeddingWeight float64) float64 {
	if profile == nil {
		return 0
	}
	w := clamp01(embeddingWeight)
	cos := 0.0
	if len(draftEmbedding) > 0 && len(profile.ReferenceEmbedding) > 0 {
		cos = math.Max(0, vecmath.Cosine(draftEmbedding, profile.ReferenceEmbedding))
	} else {
		// 缺少向量时只按统计特征评分
		w = 0
	}
	s := w*cos + (1-w)*(1-FeatureDistance(draft, profile.Features))
	return clamp01(s)
}

// FeatureDistance 两组特征的归一化距离 ∈ [0,1]
func FeatureDistance(a, b entity.StyleFeatures) float64 {
	if a.WordCount == 0 || b.WordCount == 0 {
		return 1
	}
	d := wMeanLen*relDiff(a.MeanSentenceLength, b.MeanSentenceLength) +
		wStdLen*relDiff(a.StdSentenceLength, b.StdSentenceLength) +
		wBuckets*totalVariation(a.SentenceLengthBuckets, b.SentenceLengthBuckets) +
		wPunct*mapRelDiff(a.PunctuationDensity, b.PunctuationDensity) +
		wVocab*clamp01(math.Abs(a.VocabularyRichness-b.VocabularyRichness)) +
		wWordLen*relDiff(a.MeanWordLength, b.MeanWordLength) +
		wFunction*mapTotalVariation(a.FunctionWordFreq, b.FunctionWordFreq)
	return clamp01(d)
}

// relDiff |a-b| / max(a,b,1)
func relDiff(a, b float64) float64 {
	den := math.Max(math.Max(a, b), 1)
	return clamp01(math.Abs(a-b) / den)
}

func totalVariation(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(at(a, i) - at(b, i))
	}
	return clamp01(sum / 2)
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

func sortedKeys(a, b map[string]float64) []string {
	seen := map[string]bool{}
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func mapRelDiff(a, b map[string]float64) float64 {
	keys := sortedKeys(a, b)
	if len(keys) == 0 {
		return 0
	}
	var sum float64
	for _, k := range keys {
		sum += relDiff(a[k], b[k])
	}
	return sum / float64(len(keys))
}

func mapTotalVariation(a, b map[string]float64) float64 {
	var sum float64
	for _, k := range sortedKeys(a, b) {
		sum += math.Abs(a[k] - b[k])
	}
	return clamp01(sum / 2)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

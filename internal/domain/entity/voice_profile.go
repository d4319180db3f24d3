package entity

import (
	"time"

	"github.com/google/uuid"
)

// StyleFeatures 文风统计特征，数值均已按长度归一化
type StyleFeatures struct {
	SentenceCount      int     `json:"sentence_count"`
	WordCount          int     `json:"word_count"`
	MeanSentenceLength float64 `json:"mean_sentence_length"`
	StdSentenceLength  float64 `json:"std_sentence_length"`
	// SentenceLengthBuckets 句长分布：<=8, 9-16, 17-28, >28 个词所占比例
	SentenceLengthBuckets []float64 `json:"sentence_length_buckets"`
	// PunctuationDensity 每百词的标点次数，按标点类别
	PunctuationDensity map[string]float64 `json:"punctuation_density"`
	// VocabularyRichness 滑动窗口 type/token 比
	VocabularyRichness float64 `json:"vocabulary_richness"`
	MeanWordLength     float64 `json:"mean_word_length"`
	// FunctionWordFreq 功能词在全部词中的频率
	FunctionWordFreq map[string]float64 `json:"function_word_freq"`
}

// VoiceProfile 项目的参考文风
type VoiceProfile struct {
	ID                 string        `json:"id"`
	ProjectID          string        `json:"project_id"`
	ReferenceEmbedding []float32     `json:"-"`
	EmbeddingModel     string        `json:"embedding_model"`
	Features           StyleFeatures `json:"features"`
	SampleRunes        int           `json:"sample_runes"`
	Version            int           `json:"version"`
	CalibratedAt       time.Time     `json:"calibrated_at"`
}

// NewVoiceProfile 创建首个版本
func NewVoiceProfile(projectID string, embedding []float32, model string, features StyleFeatures, sampleRunes int) *VoiceProfile {
	return &VoiceProfile{
		ID:                 uuid.NewString(),
		ProjectID:          projectID,
		ReferenceEmbedding: embedding,
		EmbeddingModel:     model,
		Features:           features,
		SampleRunes:        sampleRunes,
		Version:            1,
		CalibratedAt:       time.Now(),
	}
}

// Recalibrated 显式重新校准，返回新版本
func (p *VoiceProfile) Recalibrated(embedding []float32, model string, features StyleFeatures, sampleRunes int) *VoiceProfile {
	next := NewVoiceProfile(p.ProjectID, embedding, model, features, sampleRunes)
	next.Version = p.Version + 1
	return next
}

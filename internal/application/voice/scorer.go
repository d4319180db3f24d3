package voice

import (
	"context"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
	"manuscript-ai-api/pkg/vecmath"
)

// 单次评分/校准参与向量化的最大段落数
const maxEmbedParagraphs = 48

// Embedder 文风评分所需的向量能力
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ActiveModel() string
}

// Evaluation 一次评分的结果
type Evaluation struct {
	Score    float64
	Features entity.StyleFeatures
	Passed   bool
}

// Scorer 计算草稿向量后调用纯函数 Score；向量是唯一需要外部获取的输入
type Scorer struct {
	embedder  Embedder
	threshold float64
	weight    float64
}

// NewScorer 创建评分器，threshold<=0 时取默认 0.88
func NewScorer(embedder Embedder, threshold, embeddingWeight float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{embedder: embedder, threshold: threshold, weight: embeddingWeight}
}

// Threshold 通过阈值
func (s *Scorer) Threshold() float64 { return s.threshold }

// Evaluate 对草稿评分，文本中的 [n] 引用标记不参与统计
func (s *Scorer) Evaluate(ctx context.Context, text string, profile *entity.VoiceProfile) (Evaluation, error) {
	clean := retrieval.StripMarkers(text)
	features := Extract(clean)

	var emb []float32
	if s.embedder != nil && profile != nil && profile.EmbeddingModel == s.embedder.ActiveModel() {
		var err error
		emb, err = embedText(ctx, s.embedder, clean)
		if err != nil {
			return Evaluation{}, err
		}
	}
	score := Score(features, emb, profile, s.weight)
	metrics.VoiceScore.Observe(score)
	return Evaluation{Score: score, Features: features, Passed: score >= s.threshold}, nil
}

// embedText 按段落向量化后取平均
func embedText(ctx context.Context, e Embedder, text string) ([]float32, error) {
	paras := entity.SplitParagraphs(text)
	if len(paras) == 0 {
		return nil, nil
	}
	if len(paras) > maxEmbedParagraphs {
		paras = paras[:maxEmbedParagraphs]
	}
	vecs, err := e.EmbedBatch(ctx, paras)
	if err != nil {
		return nil, err
	}
	return vecmath.Mean(vecs), nil
}

// Calibrator 由项目素材建立参考文风
type Calibrator struct {
	materials      repository.MaterialRepository
	profiles       repository.VoiceProfileRepository
	embedder       Embedder
	maxSampleRunes int
}

// NewCalibrator 创建校准器
func NewCalibrator(materials repository.MaterialRepository, profiles repository.VoiceProfileRepository, embedder Embedder, maxSampleRunes int) *Calibrator {
	if maxSampleRunes <= 0 {
		maxSampleRunes = 20000
	}
	return &Calibrator{
		materials:      materials,
		profiles:       profiles,
		embedder:       embedder,
		maxSampleRunes: maxSampleRunes,
	}
}

// EnsureProfile 已有档案时直接返回，不会静默重算
func (c *Calibrator) EnsureProfile(ctx context.Context, projectID string) (*entity.VoiceProfile, bool, error) {
	cur, err := c.profiles.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load voice profile: %w", err)
	}
	if cur != nil {
		return cur, false, nil
	}
	emb, features, runes, err := c.measure(ctx, projectID)
	if err != nil {
		return nil, false, err
	}
	p := entity.NewVoiceProfile(projectID, emb, c.embedder.ActiveModel(), features, runes)
	if err := c.profiles.Save(ctx, p); err != nil {
		return nil, false, fmt.Errorf("failed to save voice profile: %w", err)
	}
	logger.Info(ctx, "voice profile calibrated", "project_id", projectID, "sample_runes", runes)
	return p, true, nil
}

// Recalibrate 显式重新校准，写入新版本
func (c *Calibrator) Recalibrate(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	cur, err := c.profiles.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load voice profile: %w", err)
	}
	emb, features, runes, err := c.measure(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var next *entity.VoiceProfile
	if cur == nil {
		next = entity.NewVoiceProfile(projectID, emb, c.embedder.ActiveModel(), features, runes)
	} else {
		next = cur.Recalibrated(emb, c.embedder.ActiveModel(), features, runes)
	}
	if err := c.profiles.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save voice profile: %w", err)
	}
	logger.Info(ctx, "voice profile recalibrated", "project_id", projectID, "version", next.Version)
	return next, nil
}

func (c *Calibrator) measure(ctx context.Context, projectID string) ([]float32, entity.StyleFeatures, int, error) {
	sample, err := c.sample(ctx, projectID)
	if err != nil {
		return nil, entity.StyleFeatures{}, 0, err
	}
	features := Extract(sample)
	emb, err := embedText(ctx, c.embedder, sample)
	if err != nil {
		return nil, entity.StyleFeatures{}, 0, err
	}
	return emb, features, entity.RuneLen(sample), nil
}

// sample 按素材顺序拼接已完成素材的文本，截断到 maxSampleRunes
func (c *Calibrator) sample(ctx context.Context, projectID string) (string, error) {
	list, err := c.materials.ListByProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to list materials: %w", err)
	}
	var parts []string
	budget := c.maxSampleRunes
	for _, m := range list {
		if m.Status != entity.MaterialStatusCompleted {
			continue
		}
		for _, p := range entity.SplitParagraphs(m.ExtractedText) {
			if budget <= 0 {
				break
			}
			if r := []rune(p); len(r) > budget {
				p = string(r[:budget])
			}
			parts = append(parts, p)
			budget -= entity.RuneLen(p)
		}
		if budget <= 0 {
			break
		}
	}
	if len(parts) == 0 {
		return "", apperrors.Failed(string(entity.StageCalibrate), "no completed source material to calibrate voice", nil)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Describe 把特征转述为改写指令中的文风说明
func Describe(f entity.StyleFeatures) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- 平均句长约 %.0f 词（标准差 %.0f）\n", f.MeanSentenceLength, f.StdSentenceLength)
	if len(f.SentenceLengthBuckets) == 4 {
		fmt.Fprintf(&b, "- 句长分布：短句 %.0f%%，中句 %.0f%%，长句 %.0f%%，超长句 %.0f%%\n",
			f.SentenceLengthBuckets[0]*100, f.SentenceLengthBuckets[1]*100,
			f.SentenceLengthBuckets[2]*100, f.SentenceLengthBuckets[3]*100)
	}
	fmt.Fprintf(&b, "- 每百词逗号 %.1f 个，分号 %.1f 个，破折号 %.1f 个\n",
		f.PunctuationDensity["comma"], f.PunctuationDensity["semicolon"], f.PunctuationDensity["dash"])
	fmt.Fprintf(&b, "- 词汇丰富度 %.2f，平均词长 %.1f", f.VocabularyRichness, f.MeanWordLength)
	return b.String()
}

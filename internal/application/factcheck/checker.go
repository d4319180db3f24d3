package factcheck

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/metrics"
)

const (
	DefaultSupportThreshold = 0.75
	DefaultRelatedThreshold = 0.5
	defaultConcurrency      = 4
)

// Retriever 事实核查所需的检索能力
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.Result, error)
}

// Lexicon 健康类敏感话题判断
type Lexicon interface {
	IsSensitive(text string) bool
}

// Options 阈值与并发
type Options struct {
	SupportThreshold float64
	RelatedThreshold float64
	Concurrency      int
	Budget           retrieval.Budget
}

// Checker 逐条检索证据并打标签。标签只由相似度和关键信息比对决定，不调用模型。
type Checker struct {
	retriever Retriever
	lexicon   Lexicon
	opts      Options
}

func NewChecker(retriever Retriever, lexicon Lexicon, opts Options) *Checker {
	if opts.SupportThreshold <= 0 {
		opts.SupportThreshold = DefaultSupportThreshold
	}
	if opts.RelatedThreshold <= 0 || opts.RelatedThreshold > opts.SupportThreshold {
		opts.RelatedThreshold = DefaultRelatedThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Checker{retriever: retriever, lexicon: lexicon, opts: opts}
}

// Check 并发检索每条陈述的证据；chunk 集合在核查期间不变，各 goroutine 只写自己的结果槽位
func (c *Checker) Check(ctx context.Context, projectID string, claims []entity.Claim) (*entity.FactReport, error) {
	labeled := make([]entity.Claim, len(claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i := range claims {
		i := i
		g.Go(func() error {
			claim := claims[i]
			res, err := c.retriever.Retrieve(gctx, retrieval.Query{
				ProjectID: projectID,
				Text:      claim.Text,
				Budget:    c.opts.Budget,
				Stage:     "fact_check",
			})
			if err != nil {
				return fmt.Errorf("failed to retrieve evidence for claim %d: %w", i, err)
			}
			labeled[i] = c.Label(claim, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &entity.FactReport{Claims: labeled}
	for _, cl := range labeled {
		metrics.FactClaimsTotal.WithLabelValues(string(cl.Label)).Inc()
	}
	logger.Debug(ctx, "fact check finished",
		"claims", len(labeled),
		"supported", rep.Count(entity.ClaimSupported),
		"unsupported", rep.Count(entity.ClaimUnsupported),
		"uncertain", rep.Count(entity.ClaimUncertain),
	)
	return rep, nil
}

// Label 纯函数：依据检索结果给单条陈述打标签
func (c *Checker) Label(claim entity.Claim, res *retrieval.Result) entity.Claim {
	claim.Citation = nil
	claim.Similarity = 0
	claim.Hedged = false
	if c.lexicon != nil {
		claim.Sensitive = c.lexicon.IsSensitive(claim.Text + "\n" + claim.Sentence)
	}

	if res.Empty() {
		claim.Label = entity.ClaimUnsupported
		claim.Reason = "no relevant evidence in source materials"
		return claim
	}

	want := SalientTokens(claim.Text)
	var conflict *retrieval.Passage
	var conflictMissing []Token
	for i := range res.Passages {
		p := &res.Passages[i]
		missing, conflicting := compare(want, p.Chunk.Text)
		if p.Score >= c.opts.SupportThreshold && len(missing) == 0 {
			cit := p.Citation
			claim.Label = entity.ClaimSupported
			claim.Citation = &cit
			claim.Similarity = p.Score
			claim.Reason = ""
			return claim
		}
		if conflict == nil && p.Score >= c.opts.RelatedThreshold && conflicting {
			conflict = p
			conflictMissing = missing
		}
	}

	if conflict != nil {
		cit := conflict.Citation
		claim.Label = entity.ClaimUnsupported
		claim.Citation = &cit
		claim.Similarity = conflict.Score
		claim.Reason = "evidence disagrees on " + describe(conflictMissing)
		return claim
	}

	best := res.Passages[0]
	if best.Score < c.opts.RelatedThreshold {
		claim.Label = entity.ClaimUnsupported
		claim.Similarity = best.Score
		claim.Reason = "no relevant evidence in source materials"
		return claim
	}
	cit := best.Citation
	claim.Label = entity.ClaimUncertain
	claim.Citation = &cit
	claim.Similarity = best.Score
	claim.Reason = "evidence is related but does not confirm the claim"
	return claim
}

// compare 返回证据中缺失的关键信息；同类信息在证据中存在但取值不同视为冲突
func compare(want []Token, evidence string) (missing []Token, conflicting bool) {
	if len(want) == 0 {
		return nil, false
	}
	have := SalientTokens(evidence)
	haveSet := make(map[Token]bool, len(have))
	haveClass := make(map[TokenClass]bool)
	for _, t := range have {
		haveSet[t] = true
		haveClass[t.Class] = true
	}
	lower := strings.ToLower(evidence)
	for _, t := range want {
		if haveSet[t] {
			continue
		}
		// 证据中人名可能出现在句首，按子串补充判断
		if t.Class == ClassName && strings.Contains(lower, t.Value) {
			continue
		}
		missing = append(missing, t)
		if haveClass[t.Class] {
			conflicting = true
		}
	}
	return missing, conflicting
}

func describe(tokens []Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, fmt.Sprintf("%s %q", t.Class, t.Value))
	}
	return strings.Join(parts, ", ")
}

package voice

import (
	"context"
	"strings"
	"testing"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/infrastructure/persistence/memory"
	"manuscript-ai-api/pkg/vecmath"
)

const shortSimple = `I walk to the shop. The sun is warm. We buy bread. She smiles at me.
The dog runs fast. We go home. I make tea. It is a good day.

The bus is late. He waits. The rain stops. We sit and talk. The cat sleeps.`

const longComplex = `Notwithstanding the considerable administrative complexity that had accumulated over several decades of incremental reform, the committee, which convened in the oppressive heat of an unusually protracted summer, resolved to undertake a comprehensive review of every procedure that governed the allocation of resources among the various departments; this decision, though widely applauded, provoked a cascade of unanticipated consequences that would occupy the attention of administrators, consultants, and frustrated employees for many years thereafter.

Moreover, the recommendations that eventually emerged from these deliberations, having been subjected to exhaustive scrutiny by stakeholders whose interests frequently diverged in subtle and occasionally irreconcilable ways, reflected a delicate compromise between the aspiration toward efficiency and the persistent institutional reluctance to abandon practices that, however cumbersome, had acquired the reassuring patina of tradition.`

type fixedEmbedder struct{ vec []float64 }

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vecmath.Normalize(f.vec)
	}
	return out, nil
}

func (fixedEmbedder) ActiveModel() string { return "test:fixed@1" }

func profileFrom(text string) *entity.VoiceProfile {
	return entity.NewVoiceProfile("p1", vecmath.Normalize([]float64{1, 1, 0}), "test:fixed@1", Extract(text), len(text))
}

func TestScore_Idempotent(t *testing.T) {
	p := profileFrom(shortSimple)
	f := Extract(longComplex)
	emb := vecmath.Normalize([]float64{1, 0, 1})
	a := Score(f, emb, p, 0.5)
	b := Score(Extract(longComplex), emb, p, 0.5)
	if a != b {
		t.Fatalf("score is not reproducible: %v != %v", a, b)
	}
	if a < 0 || a > 1 {
		t.Fatalf("score out of range: %v", a)
	}
}

func TestScore_SameTextScoresHigh(t *testing.T) {
	p := profileFrom(shortSimple)
	s := Score(Extract(shortSimple), p.ReferenceEmbedding, p, 0.5)
	if s < 0.99 {
		t.Fatalf("identical text scored %v", s)
	}
}

func TestScorer_LongComplexProseFailsShortProfile(t *testing.T) {
	p := profileFrom(shortSimple)
	// 向量完全一致时，仅靠统计特征也必须拉开差距
	scorer := NewScorer(fixedEmbedder{vec: []float64{1, 1, 0}}, 0, 0.5)
	ev, err := scorer.Evaluate(context.Background(), longComplex, p)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Score >= DefaultThreshold || ev.Passed {
		t.Fatalf("long complex prose scored %v against a short-sentence profile", ev.Score)
	}

	ok, err := scorer.Evaluate(context.Background(), "We eat lunch. The park is green. I read a book. He sings.", p)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok.Score <= ev.Score {
		t.Fatalf("matching prose %v should beat mismatched prose %v", ok.Score, ev.Score)
	}
}

func TestExtract_Features(t *testing.T) {
	f := Extract("One two three. Four five, six seven eight nine ten!")
	if f.SentenceCount != 2 || f.WordCount != 10 {
		t.Fatalf("counts = %d sentences, %d words", f.SentenceCount, f.WordCount)
	}
	if f.MeanSentenceLength != 5 {
		t.Fatalf("mean sentence length = %v", f.MeanSentenceLength)
	}
	if f.SentenceLengthBuckets[0] != 1 {
		t.Fatalf("buckets = %v", f.SentenceLengthBuckets)
	}
	if f.PunctuationDensity["comma"] != 10 {
		t.Fatalf("comma density = %v", f.PunctuationDensity["comma"])
	}
	if f.VocabularyRichness != 1 {
		t.Fatalf("richness = %v", f.VocabularyRichness)
	}
}

func TestCalibrator_EnsureAndRecalibrate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	materials := memory.NewMaterialRepository(store)
	profiles := memory.NewVoiceProfileRepository(store)

	m := entity.NewSourceMaterial("p1", "a.txt", "text/plain", "k", 1)
	_ = m.StartProcessing()
	_ = m.CompleteExtraction(shortSimple, "text/plain")
	_ = materials.Create(ctx, m)

	c := NewCalibrator(materials, profiles, fixedEmbedder{vec: []float64{0, 1, 0}}, 0)
	p1, created, err := c.EnsureProfile(ctx, "p1")
	if err != nil || !created {
		t.Fatalf("ensure = %v, %v", created, err)
	}
	p2, created, err := c.EnsureProfile(ctx, "p1")
	if err != nil || created || p2.ID != p1.ID {
		t.Fatalf("existing profile must not be recomputed silently")
	}
	p3, err := c.Recalibrate(ctx, "p1")
	if err != nil {
		t.Fatalf("recalibrate: %v", err)
	}
	if p3.Version != 2 {
		t.Fatalf("version = %d, want 2", p3.Version)
	}
	if !strings.Contains(Describe(p3.Features), "平均句长") {
		t.Fatal("description should mention sentence length")
	}
}

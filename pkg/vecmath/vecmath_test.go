package vecmath

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("dimension mismatch should be 0, got %v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector should be 0, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float64{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("unexpected normalized vector %v", v)
	}
	z := Normalize([]float64{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Fatalf("zero vector should stay zero, got %v", z)
	}
}

func TestMean(t *testing.T) {
	m := Mean([][]float32{{1, 0}, {0, 1}})
	want := float32(1 / math.Sqrt2)
	if math.Abs(float64(m[0]-want)) > 1e-6 || math.Abs(float64(m[1]-want)) > 1e-6 {
		t.Fatalf("unexpected mean %v", m)
	}
	if Mean(nil) != nil {
		t.Fatal("mean of nothing should be nil")
	}
}

package embedding

import (
	"context"
	"reflect"
	"testing"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	h := NewHashingEmbedder(64)
	a, err := h.EmbedStrings(context.Background(), []string{"The clinic opens at 9am", "the CLINIC opens at 9am!"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !reflect.DeepEqual(a[0], a[1]) {
		t.Fatal("case and punctuation should not change the vector")
	}
	b, _ := h.EmbedStrings(context.Background(), []string{"The clinic opens at 9am"})
	if !reflect.DeepEqual(a[0], b[0]) {
		t.Fatal("same text must embed identically across calls")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, 世界 9am")
	want := []string{"hello", "世", "界", "9am"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

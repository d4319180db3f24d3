package node

import "testing"

func TestDecodeJSON_ToleratesSurroundingText(t *testing.T) {
	type verdict struct {
		Approved bool    `json:"approved"`
		Score    float64 `json:"score"`
	}
	for _, in := range []string{
		`{"approved": true, "score": 0.8}`,
		"```json\n{\"approved\": true, \"score\": 0.8}\n```",
		`Here is my review: {"approved": true, "score": 0.8} Hope this helps.`,
	} {
		var v verdict
		if err := DecodeJSON(in, &v); err != nil {
			t.Fatalf("DecodeJSON(%q): %v", in, err)
		}
		if !v.Approved || v.Score != 0.8 {
			t.Fatalf("DecodeJSON(%q) = %+v", in, v)
		}
	}

	var spans []string
	if err := DecodeJSON(`spans: ["a", "b"]`, &spans); err != nil || len(spans) != 2 {
		t.Fatalf("array: %v %v", spans, err)
	}
	if err := DecodeJSON("   ", &spans); err == nil {
		t.Fatalf("empty output accepted")
	}
	if err := DecodeJSON("not json at all", &spans); err == nil {
		t.Fatalf("plain text accepted")
	}
}

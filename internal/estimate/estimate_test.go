package estimate

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSizeCoversSerializedLength(t *testing.T) {
	values := []any{
		nil,
		"",
		"hello",
		42,
		3.14,
		true,
		map[string]any{"id": "n1", "body": "note text", "tags": []string{"a", "b"}},
		[]int{1, 2, 3, 4, 5},
	}
	multipliers := []float64{0.5, 1, 2.5, 10}

	for _, v := range values {
		for _, m := range multipliers {
			got := Size(v, m)
			b, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal %v: %v", v, err)
			}
			want := uint64(math.Ceil(float64(len(b)) * m))
			if got < want {
				t.Errorf("Size(%v, %v) = %d, below floor %d", v, m, got, want)
			}
		}
	}
}

func TestSizeEmptyValueIsPositive(t *testing.T) {
	for _, v := range []any{nil, "", map[string]any{}, []any{}} {
		if got := Size(v, DefaultMultiplier); got == 0 {
			t.Errorf("Size(%#v) = 0, want positive estimate from framing characters", v)
		}
	}
}

func TestSizeDeterministic(t *testing.T) {
	v := map[string]any{"id": "x", "n": 7}
	first := Size(v, 2.5)
	for i := 0; i < 10; i++ {
		if got := Size(v, 2.5); got != first {
			t.Fatalf("Size not deterministic: %d then %d", first, got)
		}
	}
}

func TestSizeDefaultMultiplier(t *testing.T) {
	// Zero and negative multipliers fall back to the default.
	if Size("abc", 0) != Size("abc", DefaultMultiplier) {
		t.Error("zero multiplier should use default")
	}
	if Size("abc", -1) != Size("abc", DefaultMultiplier) {
		t.Error("negative multiplier should use default")
	}
}

func TestSizeScalesWithMultiplier(t *testing.T) {
	small := Size("payload", 1)
	big := Size("payload", 5)
	if big <= small {
		t.Errorf("expected larger multiplier to grow estimate: %d vs %d", small, big)
	}
}

func TestSizeUnserializableFallsBack(t *testing.T) {
	// Channels cannot be JSON-encoded; the estimator must not return zero.
	ch := make(chan int)
	if got := Size(ch, 2.5); got == 0 {
		t.Error("expected positive estimate for unserializable value")
	}
}

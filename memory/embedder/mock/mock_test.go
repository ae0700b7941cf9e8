package mock

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestEmbed_Deterministic(t *testing.T) {
	e := New(16)
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := New(16).Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v != %v", i, a[i], b[i])
		}
	}

	c, err := e.Embed(ctx, "something else")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical embeddings")
	}
}

func TestEmbed_UnitLength(t *testing.T) {
	for _, text := range []string{"", "a", "こんにちは 世界"} {
		vec, err := New(0).Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed(%q): %v", text, err)
		}
		if len(vec) != DefaultDimensions {
			t.Fatalf("len = %d, want %d", len(vec), DefaultDimensions)
		}
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-4 {
			t.Errorf("Embed(%q) norm = %v, want 1", text, math.Sqrt(sum))
		}
	}
}

func TestEmbed_CancelledContext(t *testing.T) {
	e := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Embed(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if e.Calls() != 0 {
		t.Fatalf("Calls = %d, want 0", e.Calls())
	}
}

func TestCalls(t *testing.T) {
	e := New(4)
	for i := 0; i < 3; i++ {
		if _, err := e.Embed(context.Background(), "x"); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if e.Calls() != 3 {
		t.Fatalf("Calls = %d, want 3", e.Calls())
	}
	if e.Dimensions() != 4 {
		t.Fatalf("Dimensions = %d, want 4", e.Dimensions())
	}
}

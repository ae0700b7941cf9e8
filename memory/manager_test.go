package memory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/mock"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
)

func seededStore(t *testing.T, embedder core.Embedder, texts map[string]string) *chromem.ChromemStore {
	t.Helper()
	ctx := context.Background()

	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	for id, text := range texts {
		embedding, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if err := store.Add(ctx, core.NewVector(id, text, embedding, nil)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	return store
}

func TestRetriever_BuildContextJoinsTopMatches(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(32)
	store := seededStore(t, embedder, map[string]string{
		"1": "artificial intelligence",
		"2": "neural networks",
		"3": "sourdough baking",
	})

	retriever := memory.NewRetriever(embedder, nil, nil)
	got, err := retriever.BuildContext(ctx, store, "artificial intelligence", 2)
	if err != nil {
		t.Fatalf("BuildContext failed: %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), got)
	}
	if lines[0] != "artificial intelligence" {
		t.Fatalf("first line = %q, want exact match first", lines[0])
	}
}

func TestRetriever_ZeroKYieldsEmptyContext(t *testing.T) {
	embedder := mock.New(8)
	store := seededStore(t, embedder, map[string]string{"1": "alpha"})

	got, err := memory.NewRetriever(embedder, nil, nil).BuildContext(context.Background(), store, "alpha", 0)
	if err != nil {
		t.Fatalf("BuildContext failed: %v", err)
	}
	if got != "" {
		t.Fatalf("context = %q, want empty", got)
	}
}

func TestRetriever_RejectsInvalidInput(t *testing.T) {
	retriever := memory.NewRetriever(mock.New(8), nil, nil)

	if _, err := retriever.Retrieve(context.Background(), nil, "q", 1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("nil store error = %v, want ErrInvalidInput", err)
	}

	store, _ := chromem.New()
	if _, err := retriever.Retrieve(context.Background(), store, "q", -1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("negative k error = %v, want ErrInvalidInput", err)
	}
}

func TestRetriever_FormatRespectsMaxChars(t *testing.T) {
	retriever := memory.NewRetriever(mock.New(8), &memory.Config{Separator: " | ", MaxChars: 7}, nil)

	got := retriever.Format([]core.Vector{{Text: "ab"}, {Text: "cdé"}})
	if got != "ab | cd" {
		t.Fatalf("format = %q, want %q", got, "ab | cd")
	}
}

func TestCopyStoreIsIndependent(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(8)
	src := seededStore(t, embedder, map[string]string{"1": "alpha"})

	dst, err := memory.CopyStore(ctx, src, chromem.Factory())
	if err != nil {
		t.Fatalf("CopyStore failed: %v", err)
	}
	if err := dst.Add(ctx, core.NewVector("2", "beta", nil, nil)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if src.Len() != 1 {
		t.Fatalf("source len = %d, want 1", src.Len())
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []float32
		want   float64
		wantOK bool
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1, wantOK: true},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0, wantOK: true},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-2, 0}, want: -1, wantOK: true},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}},
		{name: "empty", a: nil, b: nil},
		{name: "zero magnitude", a: []float32{0, 0}, b: []float32{1, 0}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, ok := memory.Cosine(testCase.a, testCase.b)
			if ok != testCase.wantOK {
				t.Fatalf("ok = %v, want %v", ok, testCase.wantOK)
			}
			if ok && math.Abs(got-testCase.want) > 1e-9 {
				t.Fatalf("score = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	vec := memory.Normalize([]float32{3, 4})
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("Normalize = %v, want [0.6 0.8]", vec)
	}

	zero := memory.Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func TestRetriever_LogsQueryWithoutSplittingRunes(t *testing.T) {
	embedder := mock.New(8)
	store := seededStore(t, embedder, map[string]string{"a": "alpha"})

	var logged string
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == "query" {
				logged = attr.Value.String()
			}
			return attr
		},
	}))

	query := strings.Repeat("é", 40)
	retriever := memory.NewRetriever(embedder, nil, logger)
	if _, err := retriever.Retrieve(context.Background(), store, query, 1); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if logged == "" {
		t.Fatal("query was not logged")
	}
	if !utf8.ValidString(logged) {
		t.Fatalf("logged query %q is not valid UTF-8", logged)
	}
	if !strings.HasSuffix(logged, "...") || len(logged) > 53 {
		t.Fatalf("logged query %q was not truncated", logged)
	}
}

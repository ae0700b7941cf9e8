//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath points at libonnxruntime. Empty uses the loader default.
	SharedLibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength bounds the tokenized input (default: 128).
	MaxSequenceLength int

	// Logger receives diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// ONNXEmbedder generates embeddings using ONNX Runtime with mean pooling
// over the model's last hidden state.
type ONNXEmbedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int
	logger     *slog.Logger

	// ONNX sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

// New creates a new ONNX embedder.
func New(cfg Config) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required: %w", core.ErrInvalidInput)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	cfg.Logger.Info("onnx embedder ready",
		"model", cfg.ModelPath,
		"dimensions", cfg.Dimensions,
		"max_sequence_length", cfg.MaxSequenceLength,
	)

	return &ONNXEmbedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
		logger:     cfg.Logger,
	}, nil
}

// Embed converts text to a unit-length embedding vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attentionMask := e.tokenizer.Encode(text, e.maxLen)
	tokenTypeIDs := make([]int64, e.maxLen)
	shape := ort.NewShape(1, int64(e.maxLen))

	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx inference: unexpected output type %T", outputs[0])
	}

	embedding, err := pool(hidden.GetData(), hidden.GetShape(), attentionMask, e.dimensions)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "onnx embedded text", "chars", len(text))
	return memory.Normalize(embedding), nil
}

// Dimensions returns the embedding vector size.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// pool reduces model output to one vector. Shapes [1, dim] are already pooled;
// shapes [1, seq, dim] are mean pooled over attended positions.
func pool(data []float32, shape ort.Shape, mask []int64, dimensions int) ([]float32, error) {
	embedding := make([]float32, dimensions)

	switch len(shape) {
	case 2:
		if len(data) < dimensions {
			return nil, fmt.Errorf("onnx output has %d values, want %d", len(data), dimensions)
		}
		copy(embedding, data[:dimensions])
		return embedding, nil

	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("onnx output batch size %d, want 1", shape[0])
		}
		if shape[2] != int64(dimensions) {
			return nil, fmt.Errorf("onnx hidden size %d, want %d", shape[2], dimensions)
		}
		seqLen := int(shape[1])
		var attended float32
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			offset := i * dimensions
			for j := 0; j < dimensions; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended > 0 {
			for j := range embedding {
				embedding[j] /= attended
			}
		}
		return embedding, nil

	default:
		return nil, fmt.Errorf("onnx output shape %v is not supported", shape)
	}
}

var _ core.Embedder = (*ONNXEmbedder)(nil)

package core

// Vector is one embedded record held by a vector store.
//
// A Vector is immutable once stored. Embedding and Metadata are never nil at a
// package boundary: NormalizeVector replaces absent values with empty ones.
type Vector struct {
	// ID keys the record inside a store.
	ID string
	// Text is the content that was embedded.
	Text string
	// Embedding is the vector used for similarity search. May be empty.
	Embedding []float32
	// Metadata carries caller-defined attributes.
	Metadata map[string]any
}

// NewVector builds a normalized vector.
func NewVector(id string, text string, embedding []float32, metadata map[string]any) Vector {
	return NormalizeVector(Vector{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Metadata:  metadata,
	})
}

// NormalizeVector returns a copy of v that owns its Embedding and Metadata.
// Nil collections become empty, non-nil collections.
func NormalizeVector(v Vector) Vector {
	out := Vector{ID: v.ID, Text: v.Text}

	out.Embedding = make([]float32, len(v.Embedding))
	copy(out.Embedding, v.Embedding)

	out.Metadata = CloneMetadata(v.Metadata)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}

	return out
}

// NormalizeVectors normalizes every vector in order.
func NormalizeVectors(vectors []Vector) []Vector {
	out := make([]Vector, len(vectors))
	for i, v := range vectors {
		out[i] = NormalizeVector(v)
	}
	return out
}

// CloneMetadata deep copies a metadata map. Nested maps and slices are copied;
// scalar values are shared.
func CloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = cloneValue(value)
	}
	return cloned
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneMetadata(typed)
	case map[string]string:
		cloned := make(map[string]string, len(typed))
		for k, v := range typed {
			cloned[k] = v
		}
		return cloned
	case []any:
		cloned := make([]any, len(typed))
		for i, item := range typed {
			cloned[i] = cloneValue(item)
		}
		return cloned
	case []string:
		return append([]string(nil), typed...)
	case []float32:
		return append([]float32(nil), typed...)
	case []float64:
		return append([]float64(nil), typed...)
	case []byte:
		return append([]byte(nil), typed...)
	default:
		return value
	}
}

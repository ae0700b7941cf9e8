// Package memory defines the vector store contract that branches hold a
// reference to, and the retrieval helpers built on top of it.
//
// Architecture:
//   - VectorStore: mutable, ID-keyed collection of embedded records
//   - StoreFactory: allocates fresh, empty stores for operations that must not
//     share state with their inputs (restore, replay, merge)
//   - BuildContext: similarity retrieval joined into prompt context
//
// Implementations:
//   - store/chromem: chromem-go backed store (embedded vector database)
//   - embedder/mock: deterministic hash embedder for tests and offline use
//   - embedder/cached: ristretto cache in front of any embedder
//   - embedder/onnx: all-MiniLM-L6-v2 via ONNX Runtime (build tag onnx)
//
// A store may be shared by several branches. Mutating it through one branch is
// visible through every other branch holding the same reference. Thread safety
// of a store is the store implementation's own contract.
package memory

package core

import "errors"

var (
	// ErrInvalidInput indicates a nil or malformed argument passed to a branch operation.
	ErrInvalidInput = errors.New("branch: invalid input")
	// ErrToolNotFound indicates a tool name that is not registered.
	ErrToolNotFound = errors.New("branch: tool not found")
	// ErrStoreUnavailable indicates a vector store that could not serve a request.
	ErrStoreUnavailable = errors.New("branch: vector store unavailable")
	// ErrSnapshotNotFound indicates a snapshot lookup miss in a repository.
	ErrSnapshotNotFound = errors.New("branch: snapshot not found")
)

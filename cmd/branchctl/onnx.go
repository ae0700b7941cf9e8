//go:build onnx

package main

import (
	"log/slog"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/memory/embedder/onnx"
)

func init() {
	onnxEmbedder = func(cfg Config, logger *slog.Logger) (core.Embedder, func(), error) {
		embedder, err := onnx.New(onnx.Config{
			ModelPath:         cfg.ONNX.ModelPath,
			TokenizerPath:     cfg.ONNX.TokenizerPath,
			SharedLibraryPath: cfg.ONNX.SharedLibraryPath,
			Dimensions:        cfg.ONNX.Dimensions,
			Logger:            logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return embedder, func() { _ = embedder.Close() }, nil
	}
}

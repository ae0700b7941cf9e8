package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/llm"
	"github.com/becomeliminal/nim-branch-sdk/memory"
	"github.com/becomeliminal/nim-branch-sdk/memory/store/chromem"
	"github.com/becomeliminal/nim-branch-sdk/storage"
	"github.com/becomeliminal/nim-branch-sdk/storage/postgres"
	"github.com/becomeliminal/nim-branch-sdk/storage/remote"
	"github.com/becomeliminal/nim-branch-sdk/storage/sqlite"
	"github.com/becomeliminal/nim-branch-sdk/telemetry"
)

const offlineProfile = "offline"

// onnxEmbedder is installed by builds with the onnx tag.
var onnxEmbedder func(cfg Config, logger *slog.Logger) (core.Embedder, func(), error)

// app carries the collaborators every command needs.
type app struct {
	viper      *viper.Viper
	configFile string
	stdout     io.Writer
	stderr     io.Writer

	cfg       Config
	logger    *slog.Logger
	repo      storage.Repository
	registry  *llm.Registry
	generator core.Generator
	embedder  core.Embedder
	closers   []func(context.Context) error
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{viper: viper.New(), stdout: stdout, stderr: stderr}
}

// open loads configuration and connects storage and providers.
func (a *app) open(ctx context.Context) error {
	cfg, err := loadConfig(a.viper, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openRepository(ctx); err != nil {
		return err
	}
	return a.openProviders(ctx)
}

func (a *app) openRepository(ctx context.Context) error {
	var (
		repo storage.Repository
		err  error
	)
	switch a.cfg.Storage.Driver {
	case "", "sqlite":
		repo, err = sqlite.Open(a.cfg.Storage.Path)
	case "postgres":
		repo, err = postgres.Connect(ctx, a.cfg.Storage.DSN)
	case "grpc":
		repo, err = remote.Dial(a.cfg.Storage.Address)
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return fmt.Errorf("open %s storage: %w", a.cfg.Storage.Driver, err)
	}
	a.repo = repo
	a.closers = append(a.closers, func(context.Context) error { return repo.Close() })
	return nil
}

func (a *app) openProviders(ctx context.Context) error {
	var (
		llmConfig llm.Config
		err       error
	)
	if a.cfg.LLM.Config == "" {
		llmConfig = llm.Config{
			RequestTimeout: llm.DefaultRequestTimeout,
			Profiles: map[string]llm.Profile{
				offlineProfile: {Type: llm.TypeMock, Dimensions: a.cfg.LLM.Dimensions},
			},
		}
	} else if llmConfig, err = llm.LoadFile(a.cfg.LLM.Config); err != nil {
		return err
	}

	registry, err := llm.Build(llmConfig)
	if err != nil {
		return err
	}
	a.registry = registry
	a.closers = append(a.closers, func(context.Context) error { registry.Close(); return nil })

	generatorKey := firstNonEmpty(a.cfg.LLM.Generator, llmConfig.Generator, offlineProfile)
	if a.generator, err = registry.Generator(generatorKey); err != nil {
		return err
	}

	if a.cfg.ONNX.ModelPath != "" {
		if onnxEmbedder == nil {
			return errors.New("onnx.model_path is set but branchctl was built without the onnx tag")
		}
		embedder, closeFn, err := onnxEmbedder(a.cfg, a.logger)
		if err != nil {
			return err
		}
		a.embedder = embedder
		a.closers = append(a.closers, func(context.Context) error { closeFn(); return nil })
	} else {
		embedderKey := firstNonEmpty(a.cfg.LLM.Embedder, llmConfig.Embedder, offlineProfile)
		if a.embedder, err = registry.Embedder(embedderKey); err != nil {
			return err
		}
	}

	a.logger.DebugContext(ctx, "providers ready",
		"generator", generatorKey,
		"embedding_dimensions", a.embedder.Dimensions(),
	)
	return nil
}

func (a *app) retrieverConfig() *memory.Config {
	return &memory.Config{
		Separator: a.cfg.Retrieval.Separator,
		MaxChars:  a.cfg.Retrieval.MaxChars,
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func (a *app) storeFactory() memory.StoreFactory {
	return chromem.Factory(chromem.WithLogger(a.logger))
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultDBPath     = "branches.db"
	defaultDimensions = 384
)

// Config holds the configuration for branchctl.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Storage struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
		// Address is the branchctl serve endpoint used by the grpc driver.
		Address string `mapstructure:"address"`
	} `mapstructure:"storage"`
	LLM struct {
		// Config is the provider profile file. Empty runs offline.
		Config     string `mapstructure:"config"`
		Generator  string `mapstructure:"generator"`
		Embedder   string `mapstructure:"embedder"`
		Dimensions int    `mapstructure:"dimensions"`
	} `mapstructure:"llm"`
	ONNX struct {
		ModelPath         string `mapstructure:"model_path"`
		TokenizerPath     string `mapstructure:"tokenizer_path"`
		SharedLibraryPath string `mapstructure:"shared_library_path"`
		Dimensions        int    `mapstructure:"dimensions"`
	} `mapstructure:"onnx"`
	Retrieval struct {
		Separator string `mapstructure:"separator"`
		MaxChars  int    `mapstructure:"max_chars"`
	} `mapstructure:"retrieval"`
	Telemetry struct {
		Endpoint    string  `mapstructure:"endpoint"`
		ServiceName string  `mapstructure:"service_name"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"telemetry"`
}

// setDefaults registers every key so that BRANCHCTL_* variables reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", defaultDBPath)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.address", "")
	v.SetDefault("llm.config", "")
	v.SetDefault("llm.generator", "")
	v.SetDefault("llm.embedder", "")
	v.SetDefault("llm.dimensions", defaultDimensions)
	v.SetDefault("onnx.model_path", "")
	v.SetDefault("onnx.tokenizer_path", "")
	v.SetDefault("onnx.shared_library_path", "")
	v.SetDefault("onnx.dimensions", 0)
	v.SetDefault("retrieval.separator", "\n")
	v.SetDefault("retrieval.max_chars", 0)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "branchctl")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// loadConfig reads branchctl.yaml from the working directory, or configFile
// when set, and overlays BRANCHCTL_* environment variables.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("branchctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("BRANCHCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.LLM.Dimensions <= 0 {
		return Config{}, fmt.Errorf("llm.dimensions must be > 0")
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unsupported format %q", format)
	}
}

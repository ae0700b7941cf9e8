package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultRequestTimeout bounds provider calls when request_timeout is unset.
	DefaultRequestTimeout = 90 * time.Second

	// TypeAnthropic selects the Claude Messages API. Generator only.
	TypeAnthropic = "anthropic"
	// TypeOpenAI selects the OpenAI Responses and Embeddings APIs.
	TypeOpenAI = "openai"
	// TypeGemini selects the Gemini API.
	TypeGemini = "gemini"
	// TypeMock selects offline stand-ins: a hash embedder and an echo generator.
	TypeMock = "mock"

	defaultGeminiAPIVersion = "v1beta"
	defaultMockDimensions   = 384
)

// Config is the provider configuration loaded from JSON.
type Config struct {
	// RequestTimeout bounds one generation or embedding call.
	RequestTimeout time.Duration
	// Profiles contains provider profiles keyed by profile name.
	Profiles map[string]Profile
	// Generator names the profile used for generation.
	Generator string
	// Embedder names the profile used for embeddings.
	Embedder string
}

// Profile describes one named provider profile.
type Profile struct {
	Type    string
	APIKey  string
	BaseURL string

	Model           string
	EmbeddingModel  string
	Dimensions      int
	MaxOutputTokens int
	Temperature     float64
	SystemPrompt    string

	// Organization and Project scope OpenAI requests.
	Organization string
	Project      string
	// APIVersion selects the Gemini API version.
	APIVersion string
	MaxRetries *int

	// CacheEntries wraps the embedder in an in-memory cache when positive.
	CacheEntries int64
}

type fileConfig struct {
	RequestTimeout string                 `json:"request_timeout"`
	Generator      string                 `json:"generator"`
	Embedder       string                 `json:"embedder"`
	Profiles       map[string]fileProfile `json:"profiles"`
}

type fileProfile struct {
	Type            string  `json:"type"`
	APIKey          string  `json:"api_key"`
	APIKeyEnv       string  `json:"api_key_env"`
	BaseURL         string  `json:"base_url"`
	Model           string  `json:"model"`
	EmbeddingModel  string  `json:"embedding_model"`
	Dimensions      int     `json:"dimensions"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
	SystemPrompt    string  `json:"system_prompt"`
	Organization    string  `json:"organization"`
	Project         string  `json:"project"`
	APIVersion      string  `json:"api_version"`
	MaxRetries      *int    `json:"max_retries"`
	CacheEntries    int64   `json:"cache_entries"`
}

// LoadFile reads and validates provider configuration from path.
func LoadFile(path string) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("load llm config: empty path")
	}

	data, err := os.ReadFile(trimmedPath)
	if err != nil {
		return Config{}, fmt.Errorf("load llm config read %s: %w", trimmedPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load llm config %s: %w", trimmedPath, err)
	}
	return cfg, nil
}

// Parse decodes and validates provider configuration. Unknown fields are rejected.
// Profiles may name an environment variable holding the API key with api_key_env.
func Parse(data []byte) (Config, error) {
	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}

	cfg := Config{
		RequestTimeout: DefaultRequestTimeout,
		Profiles:       make(map[string]Profile, len(parsed.Profiles)),
		Generator:      strings.TrimSpace(parsed.Generator),
		Embedder:       strings.TrimSpace(parsed.Embedder),
	}

	if rawTimeout := strings.TrimSpace(parsed.RequestTimeout); rawTimeout != "" {
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("parse request_timeout: must be > 0")
		}
		cfg.RequestTimeout = timeout
	}

	for key, raw := range parsed.Profiles {
		profileKey := strings.TrimSpace(key)
		if profileKey == "" {
			return Config{}, fmt.Errorf("profiles: empty profile key")
		}
		if _, exists := cfg.Profiles[profileKey]; exists {
			return Config{}, fmt.Errorf("profiles: duplicate profile key %s", profileKey)
		}
		cfg.Profiles[profileKey] = parseProfile(raw)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseProfile(raw fileProfile) Profile {
	profile := Profile{
		Type:            strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:          strings.TrimSpace(raw.APIKey),
		BaseURL:         strings.TrimSpace(raw.BaseURL),
		Model:           strings.TrimSpace(raw.Model),
		EmbeddingModel:  strings.TrimSpace(raw.EmbeddingModel),
		Dimensions:      raw.Dimensions,
		MaxOutputTokens: raw.MaxOutputTokens,
		Temperature:     raw.Temperature,
		SystemPrompt:    raw.SystemPrompt,
		Organization:    strings.TrimSpace(raw.Organization),
		Project:         strings.TrimSpace(raw.Project),
		APIVersion:      strings.TrimSpace(raw.APIVersion),
		CacheEntries:    raw.CacheEntries,
	}
	if raw.MaxRetries != nil {
		retries := *raw.MaxRetries
		profile.MaxRetries = &retries
	}
	if profile.APIKey == "" && strings.TrimSpace(raw.APIKeyEnv) != "" {
		profile.APIKey = strings.TrimSpace(os.Getenv(strings.TrimSpace(raw.APIKeyEnv)))
	}
	if profile.Type == TypeGemini && profile.APIVersion == "" {
		profile.APIVersion = defaultGeminiAPIVersion
	}
	if profile.Type == TypeMock && profile.Dimensions == 0 {
		profile.Dimensions = defaultMockDimensions
	}
	return profile
}

// Validate checks configuration coherence.
func (cfg Config) Validate() error {
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("validate llm config: request_timeout must be > 0")
	}
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("validate llm config: profiles is required")
	}

	for _, key := range sortedKeys(cfg.Profiles) {
		if err := validateProfile(cfg.Profiles[key]); err != nil {
			return fmt.Errorf("validate llm config profiles[%s]: %w", key, err)
		}
	}

	if cfg.Generator != "" {
		if _, exists := cfg.Profiles[cfg.Generator]; !exists {
			return fmt.Errorf("validate llm config: generator profile %s is not configured", cfg.Generator)
		}
	}
	if cfg.Embedder != "" {
		profile, exists := cfg.Profiles[cfg.Embedder]
		if !exists {
			return fmt.Errorf("validate llm config: embedder profile %s is not configured", cfg.Embedder)
		}
		if !profile.SupportsEmbeddings() {
			return fmt.Errorf("validate llm config: embedder profile %s has type %s which cannot embed", cfg.Embedder, profile.Type)
		}
	}
	return nil
}

// SupportsEmbeddings reports whether the profile type provides an embedder.
func (p Profile) SupportsEmbeddings() bool {
	return p.Type != TypeAnthropic
}

func validateProfile(profile Profile) error {
	switch profile.Type {
	case "":
		return fmt.Errorf("missing type")
	case TypeAnthropic, TypeOpenAI, TypeGemini:
		if profile.APIKey == "" {
			return fmt.Errorf("missing api_key")
		}
	case TypeMock:
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}

	if profile.Dimensions < 0 {
		return fmt.Errorf("dimensions must be >= 0")
	}
	if profile.MaxOutputTokens < 0 {
		return fmt.Errorf("max_output_tokens must be >= 0")
	}
	if profile.Temperature < 0 || profile.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2]")
	}
	if profile.MaxRetries != nil && *profile.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if profile.CacheEntries < 0 {
		return fmt.Errorf("cache_entries must be >= 0")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package groupchat

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darkostanimirovic/groupchat/internal/envconfig"
	"github.com/darkostanimirovic/groupchat/internal/wrapper"
	"github.com/darkostanimirovic/groupchat/providers"
	openaiprovider "github.com/darkostanimirovic/groupchat/providers/openai"
)

var (
	// ErrConfig wraps every configuration failure.
	ErrConfig = errors.New("groupchat: invalid configuration")
	// ErrUnknownBackend is returned for a backend kind outside openai, azure and local.
	ErrUnknownBackend = errors.New("groupchat: unknown backend")
)

// BackendKind names an LLM backend.
type BackendKind string

const (
	BackendOpenAI BackendKind = "openai"
	BackendAzure  BackendKind = "azure"
	BackendLocal  BackendKind = "local"
)

// Environment variables read by SelectBackend.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAzureKey      = "AZURE_OPENAI_KEY"
	EnvAzureVersion  = "AZURE_OPENAI_VERSION"
	EnvAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
)

// Backend defaults.
const (
	OpenAIModel       = "gpt-4-32k"
	OpenAIAPIEndpoint = "https://api.openai.com/v1"

	AzureModel          = "gpt-4"
	AzureContextWindow  = 32768
	AzureMemoryEndpoint = "https://customproject.openai.azure.com"

	LocalModel          = "NULL"
	LocalBaseURL        = "http://localhost:1234/v1"
	LocalAPIKey         = "NULL"
	LocalContextWindow  = 8192
	LocalEndpointType   = "lmstudio"
	LocalMemoryEndpoint = "http://localhost:1234"

	// DefaultSeed is forwarded to chat completion requests.
	DefaultSeed = 42
)

// LLMConfig is the configuration of a plain chat-completion agent. Exactly one
// of OpenAIConfig, AzureConfig and LocalConfig is used.
type LLMConfig interface {
	Backend() BackendKind
	ModelName() string
	Validate() error
	// Map renders the config with its wire key names.
	Map() map[string]any
}

// OpenAIConfig targets api.openai.com.
type OpenAIConfig struct {
	Model  string
	APIKey string
}

func (c OpenAIConfig) Backend() BackendKind { return BackendOpenAI }
func (c OpenAIConfig) ModelName() string    { return c.Model }

// Validate checks required fields.
func (c OpenAIConfig) Validate() error {
	return requireFields("openai", map[string]string{"model": c.Model, "api_key": c.APIKey})
}

// Map renders the config with its wire key names.
func (c OpenAIConfig) Map() map[string]any {
	return map[string]any{"model": c.Model, "api_key": c.APIKey}
}

// AzureConfig targets an Azure OpenAI deployment. The api type is always "azure".
type AzureConfig struct {
	Model      string
	APIKey     string
	APIVersion string
	BaseURL    string
}

func (c AzureConfig) Backend() BackendKind { return BackendAzure }
func (c AzureConfig) ModelName() string    { return c.Model }

// Validate checks required fields.
func (c AzureConfig) Validate() error {
	return requireFields("azure", map[string]string{
		"model":       c.Model,
		"api_key":     c.APIKey,
		"api_version": c.APIVersion,
		"base_url":    c.BaseURL,
	})
}

// Map renders the config with its wire key names.
func (c AzureConfig) Map() map[string]any {
	return map[string]any{
		"model":       c.Model,
		"api_type":    "azure",
		"api_key":     c.APIKey,
		"api_version": c.APIVersion,
		"base_url":    c.BaseURL,
	}
}

// LocalConfig targets an OpenAI-compatible server on the local machine.
type LocalConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

func (c LocalConfig) Backend() BackendKind { return BackendLocal }
func (c LocalConfig) ModelName() string    { return c.Model }

// Validate checks required fields.
func (c LocalConfig) Validate() error {
	return requireFields("local", map[string]string{"base_url": c.BaseURL})
}

// Map renders the config with its wire key names.
func (c LocalConfig) Map() map[string]any {
	return map[string]any{"model": c.Model, "base_url": c.BaseURL, "api_key": c.APIKey}
}

// MemoryEndpoint describes where a memory agent sends its requests.
type MemoryEndpoint interface {
	EndpointType() string
	Map() map[string]any
}

// OpenAIEndpoint is the hosted OpenAI endpoint for memory agents.
type OpenAIEndpoint struct {
	URL string
	Key string
}

func (e OpenAIEndpoint) EndpointType() string { return string(BackendOpenAI) }

func (e OpenAIEndpoint) Map() map[string]any {
	return map[string]any{
		"model_endpoint_type": e.EndpointType(),
		"model_endpoint":      e.URL,
		"openai_key":          e.Key,
	}
}

// AzureEndpoint is an Azure OpenAI resource for memory agents. URL is the
// nominal model endpoint and Endpoint the resource actually called.
type AzureEndpoint struct {
	URL      string
	Key      string
	Endpoint string
	Version  string
}

func (e AzureEndpoint) EndpointType() string { return string(BackendAzure) }

func (e AzureEndpoint) Map() map[string]any {
	return map[string]any{
		"model_endpoint_type": e.EndpointType(),
		"model_endpoint":      e.URL,
		"azure_key":           e.Key,
		"azure_endpoint":      e.Endpoint,
		"azure_version":       e.Version,
	}
}

// LocalEndpoint is a local completions server such as LM Studio.
type LocalEndpoint struct {
	Type string
	URL  string
}

func (e LocalEndpoint) EndpointType() string { return e.Type }

func (e LocalEndpoint) Map() map[string]any {
	return map[string]any{
		"model_endpoint_type": e.Type,
		"model_endpoint":      e.URL,
	}
}

// MemoryConfig configures a memory agent.
type MemoryConfig struct {
	Model         string
	ContextWindow int
	Preset        string
	ModelWrapper  string
	Endpoint      MemoryEndpoint
}

// Validate checks the fields a memory agent cannot run without.
func (c MemoryConfig) Validate() error {
	var problems []string
	if c.ContextWindow <= 0 {
		problems = append(problems, "context_window must be positive")
	}
	if c.Preset == "" {
		problems = append(problems, "preset is required")
	}
	if c.Endpoint == nil {
		problems = append(problems, "model endpoint is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: memory config: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Map renders the config with its wire key names. An empty model or wrapper
// renders as nil.
func (c MemoryConfig) Map() map[string]any {
	m := map[string]any{
		"model":          nilIfEmpty(c.Model),
		"context_window": c.ContextWindow,
		"preset":         c.Preset,
		"model_wrapper":  nilIfEmpty(c.ModelWrapper),
	}
	if c.Endpoint != nil {
		for k, v := range c.Endpoint.Map() {
			m[k] = v
		}
	}
	return m
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Env and MapEnv are the configuration sources SelectBackend reads from.
type (
	Env    = envconfig.Env
	MapEnv = envconfig.MapEnv
)

// ProcessEnv reads variables from the process environment through viper.
func ProcessEnv() Env {
	return envconfig.New(nil)
}

// SelectBackend builds the plain and memory-agent configurations for kind from
// env. It performs no network calls. Every missing variable is named in the error.
func SelectBackend(kind BackendKind, env Env) (LLMConfig, MemoryConfig, error) {
	switch kind {
	case BackendOpenAI:
		if missing := envconfig.Missing(env, EnvOpenAIKey); len(missing) > 0 {
			return nil, MemoryConfig{}, missingVars(kind, missing)
		}
		key := env.Get(EnvOpenAIKey)
		return OpenAIConfig{Model: OpenAIModel, APIKey: key},
			MemoryConfig{
				Model:         OpenAIModel,
				ContextWindow: ContextWindowFor(OpenAIModel),
				Preset:        PresetChat,
				Endpoint:      OpenAIEndpoint{URL: OpenAIAPIEndpoint, Key: key},
			}, nil

	case BackendAzure:
		if missing := envconfig.Missing(env, EnvAzureKey, EnvAzureVersion, EnvAzureEndpoint); len(missing) > 0 {
			return nil, MemoryConfig{}, missingVars(kind, missing)
		}
		key, version, endpoint := env.Get(EnvAzureKey), env.Get(EnvAzureVersion), env.Get(EnvAzureEndpoint)
		return AzureConfig{Model: AzureModel, APIKey: key, APIVersion: version, BaseURL: endpoint},
			MemoryConfig{
				Model:         AzureModel,
				ContextWindow: AzureContextWindow,
				Preset:        PresetWorkato,
				Endpoint: AzureEndpoint{
					URL:      AzureMemoryEndpoint,
					Key:      key,
					Endpoint: endpoint,
					Version:  version,
				},
			}, nil

	case BackendLocal:
		return LocalConfig{Model: LocalModel, BaseURL: LocalBaseURL, APIKey: LocalAPIKey},
			MemoryConfig{
				ContextWindow: LocalContextWindow,
				Preset:        PresetChat,
				ModelWrapper:  wrapper.DefaultWrapper,
				Endpoint:      LocalEndpoint{Type: LocalEndpointType, URL: LocalMemoryEndpoint},
			}, nil

	default:
		return nil, MemoryConfig{}, fmt.Errorf("%w: %w: %q", ErrConfig, ErrUnknownBackend, kind)
	}
}

func missingVars(kind BackendKind, missing []string) error {
	return fmt.Errorf("%w: %s backend requires %s", ErrConfig, kind, strings.Join(missing, ", "))
}

func requireFields(backend string, fields map[string]string) error {
	var missing []string
	for _, name := range []string{"model", "api_key", "api_version", "base_url"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s config missing %s", ErrConfig, backend, strings.Join(missing, ", "))
	}
	return nil
}

// ProviderOptions configures the providers built from a config.
type ProviderOptions struct {
	Logger    *slog.Logger
	Extra     []openaiprovider.Option
	RateLimit float64
	Burst     int
}

func (o ProviderOptions) build() []openaiprovider.Option {
	opts := append([]openaiprovider.Option{}, o.Extra...)
	if o.Logger != nil {
		opts = append(opts, openaiprovider.WithLogger(o.Logger))
	}
	if o.RateLimit > 0 {
		opts = append(opts, openaiprovider.WithRateLimit(o.RateLimit, o.Burst))
	}
	return opts
}

// NewProvider builds the chat-completion provider for a plain config.
func NewProvider(cfg LLMConfig, o ProviderOptions) (providers.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no llm config", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch c := cfg.(type) {
	case OpenAIConfig:
		return openaiprovider.NewOpenAI(c.APIKey, o.build()...), nil
	case AzureConfig:
		return openaiprovider.NewAzure(c.APIKey, c.BaseURL, c.APIVersion, o.build()...), nil
	case LocalConfig:
		return openaiprovider.NewLocal(c.BaseURL, c.APIKey, o.build()...), nil
	default:
		return nil, fmt.Errorf("%w: %w: %T", ErrConfig, ErrUnknownBackend, cfg)
	}
}

// NewMemoryProvider builds the provider a memory agent talks to. Local
// endpoints go through the completions API with the configured model wrapper.
func NewMemoryProvider(cfg MemoryConfig, o ProviderOptions) (providers.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch e := cfg.Endpoint.(type) {
	case OpenAIEndpoint:
		opts := o.build()
		if e.URL != "" && e.URL != OpenAIAPIEndpoint {
			return openaiprovider.NewLocal(e.URL, e.Key, append(opts, openaiprovider.WithName("openai"))...), nil
		}
		return openaiprovider.NewOpenAI(e.Key, opts...), nil
	case AzureEndpoint:
		return openaiprovider.NewAzure(e.Key, e.Endpoint, e.Version, o.build()...), nil
	case LocalEndpoint:
		w, err := wrapper.Get(cfg.ModelWrapper)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return openaiprovider.NewCompletion(e.URL, w, append(o.build(), openaiprovider.WithName(e.Type))...), nil
	default:
		return nil, fmt.Errorf("%w: %w: endpoint %T", ErrConfig, ErrUnknownBackend, cfg.Endpoint)
	}
}

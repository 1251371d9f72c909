// ABOUTME: Configuration loading and parsing for concierge-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete concierge-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tenants    TenantsConfig    `yaml:"tenants"`
	Auth       AuthConfig       `yaml:"auth"`
	Channel    ChannelConfig    `yaml:"channel"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	CRM        CRMConfig        `yaml:"crm"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Events     EventsConfig     `yaml:"events"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is the externally reachable base URL, used to build OAuth
	// redirect URIs behind a proxy. Empty derives it from the request host.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TenantsConfig locates the tenant registry file produced by the admin tool
type TenantsConfig struct {
	Path string `yaml:"path"`
	// DefaultTenant is used when an inbound message carries a channel
	// identity no tenant claims. Empty means such messages are dropped.
	DefaultTenant string `yaml:"default_tenant"`
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChannelConfig holds messaging channel webhook and send configuration
type ChannelConfig struct {
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
	APIBase     string `yaml:"api_base"`

	SendTimeout time.Duration `yaml:"-"`

	SendTimeoutRaw string `yaml:"send_timeout"`
}

// SessionsConfig selects and configures the conversation session store
type SessionsConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// RedisConfig holds redis connection settings for the session store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CRMConfig holds CRM adapter settings shared across tenants
type CRMConfig struct {
	// HubspotBaseURL overrides the HubSpot contacts endpoint, mainly for tests.
	HubspotBaseURL string `yaml:"hubspot_base_url"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// GenerationConfig holds text-generation backend configuration
type GenerationConfig struct {
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// GeminiConfig holds Gemini API settings
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OllamaConfig holds Ollama server settings
type OllamaConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// RetrievalConfig holds retrieval-context pipeline configuration
type RetrievalConfig struct {
	ChunkSize      int          `yaml:"chunk_size"`
	ChunkOverlap   int          `yaml:"chunk_overlap"`
	TopK           int          `yaml:"top_k"`
	Embedder       string       `yaml:"embedder"`
	EmbeddingModel string       `yaml:"embedding_model"`
	Index          string       `yaml:"index"`
	Qdrant         QdrantConfig `yaml:"qdrant"`

	FetchTimeout time.Duration `yaml:"-"`

	FetchTimeoutRaw string `yaml:"fetch_timeout"`
}

// QdrantConfig holds qdrant connection settings for the vector index
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	UseTLS     bool   `yaml:"use_tls"`
}

// EventsConfig holds the optional AMQP event publisher configuration
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// DedupeConfig bounds the inbound message replay cache
type DedupeConfig struct {
	MaxEntries int `yaml:"max_entries"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the settings that have sensible defaults so a
// minimal config file stays minimal.
func (c *Config) applyDefaults() {
	if c.Channel.APIBase == "" {
		c.Channel.APIBase = "https://graph.facebook.com/v19.0"
	}
	if c.Channel.SendTimeout == 0 {
		c.Channel.SendTimeout = 10 * time.Second
	}
	if c.Sessions.Driver == "" {
		c.Sessions.Driver = "memory"
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = 24 * time.Hour
	}
	if c.CRM.RequestTimeout == 0 {
		c.CRM.RequestTimeout = 15 * time.Second
	}
	if c.Generation.RequestTimeout == 0 {
		c.Generation.RequestTimeout = 60 * time.Second
	}
	if c.Generation.Gemini.Model == "" {
		c.Generation.Gemini.Model = "gemini-1.5-flash"
	}
	if c.Generation.Ollama.Endpoint == "" {
		c.Generation.Ollama.Endpoint = "http://localhost:11434"
	}
	if c.Generation.Ollama.Model == "" {
		c.Generation.Ollama.Model = "phi3:mini"
	}
	if c.Retrieval.FetchTimeout == 0 {
		c.Retrieval.FetchTimeout = 30 * time.Second
	}
	if c.Retrieval.ChunkSize == 0 {
		c.Retrieval.ChunkSize = 1000
	}
	if c.Retrieval.ChunkOverlap == 0 {
		c.Retrieval.ChunkOverlap = 200
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.Embedder == "" {
		c.Retrieval.Embedder = "ollama"
	}
	if c.Retrieval.Index == "" {
		c.Retrieval.Index = "memory"
	}
	if c.Retrieval.Qdrant.Collection == "" {
		c.Retrieval.Qdrant.Collection = "concierge_rag"
	}
	if c.Retrieval.Qdrant.Port == 0 {
		c.Retrieval.Qdrant.Port = 6334
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "concierge.events"
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Tenants.Path == "" {
		return fmt.Errorf("tenants.path is required")
	}

	if c.Channel.VerifyToken == "" {
		return fmt.Errorf("channel.verify_token is required")
	}

	switch c.Sessions.Driver {
	case "memory":
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr is required when sessions.driver is redis")
		}
	default:
		return fmt.Errorf("sessions.driver must be memory or redis, got %q", c.Sessions.Driver)
	}

	switch c.Retrieval.Embedder {
	case "ollama":
	case "gemini":
		if c.Generation.Gemini.APIKey == "" {
			return fmt.Errorf("generation.gemini.api_key is required when retrieval.embedder is gemini")
		}
	default:
		return fmt.Errorf("retrieval.embedder must be ollama or gemini, got %q", c.Retrieval.Embedder)
	}

	switch c.Retrieval.Index {
	case "memory":
	case "qdrant":
		if c.Retrieval.Qdrant.Host == "" {
			return fmt.Errorf("retrieval.qdrant.host is required when retrieval.index is qdrant")
		}
	default:
		return fmt.Errorf("retrieval.index must be memory or qdrant, got %q", c.Retrieval.Index)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events.enabled is true")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Channel.SendTimeoutRaw, "channel.send_timeout", &cfg.Channel.SendTimeout},
		{cfg.Sessions.TTLRaw, "sessions.ttl", &cfg.Sessions.TTL},
		{cfg.CRM.RequestTimeoutRaw, "crm.request_timeout", &cfg.CRM.RequestTimeout},
		{cfg.Generation.RequestTimeoutRaw, "generation.request_timeout", &cfg.Generation.RequestTimeout},
		{cfg.Retrieval.FetchTimeoutRaw, "retrieval.fetch_timeout", &cfg.Retrieval.FetchTimeout},
		{cfg.Dedupe.TTLRaw, "dedupe.ttl", &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

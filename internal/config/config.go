package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the bridge service.
type Config struct {
	Addr     string `json:"addr" yaml:"addr"`           // Listen address, e.g. ":8080"
	Site     string `json:"site" yaml:"site"`           // Public base URL the ticketing system reaches us at
	LogLevel string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	LogFile  string `json:"log_file" yaml:"log_file"`   // Optional structured log file

	Integration IntegrationConfig `json:"integration" yaml:"integration"`
	Zendesk     ZendeskConfig     `json:"zendesk" yaml:"zendesk"`
	Attachment  AttachmentConfig  `json:"attachment" yaml:"attachment"`
	Threads     ThreadConfig      `json:"threads" yaml:"threads"`
	Delivery    DeliveryConfig    `json:"delivery" yaml:"delivery"`
	Related     RelatedConfig     `json:"related" yaml:"related"`
}

// IntegrationConfig feeds the integration manifest.
type IntegrationConfig struct {
	Name         string `json:"name" yaml:"name"`
	Author       string `json:"author" yaml:"author"`
	Version      string `json:"version" yaml:"version"`
	PushClientID string `json:"push_client_id" yaml:"push_client_id"` // Empty disables push delivery
}

// ZendeskConfig holds ticketing-side HTTP settings.
type ZendeskConfig struct {
	HTTPTimeout      Duration `json:"http_timeout" yaml:"http_timeout"` // push and validate_token calls
	WebhookSecret    string   `json:"webhook_secret" yaml:"webhook_secret"`
	WebhookTolerance Duration `json:"webhook_tolerance" yaml:"webhook_tolerance"` // max signature timestamp skew
}

// AttachmentConfig controls the attachment proxy.
type AttachmentConfig struct {
	Secret       string   `json:"secret" yaml:"secret"` // Empty leaves proxied URLs unsigned
	TokenTTL     Duration `json:"token_ttl" yaml:"token_ttl"`
	FetchTimeout Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
}

// ThreadConfig controls how forum threads are translated and moderated.
type ThreadConfig struct {
	Placeholder    string       `json:"placeholder" yaml:"placeholder"`
	TagThreads     bool         `json:"tag_threads" yaml:"tag_threads"`
	ResolveDelay   Duration     `json:"resolve_delay" yaml:"resolve_delay"`
	ResolvedNotice string       `json:"resolved_notice" yaml:"resolved_notice"`
	Greeting       string       `json:"greeting" yaml:"greeting"` // Empty disables the greeting message
	Links          []LinkButton `json:"links" yaml:"links"`
}

// LinkButton is a link rendered next to the close/reopen button.
type LinkButton struct {
	Label string `json:"label" yaml:"label"`
	Emoji string `json:"emoji" yaml:"emoji"`
	URL   string `json:"url" yaml:"url"`
}

// DeliveryConfig bounds the per-tenant poll buffer.
type DeliveryConfig struct {
	BufferCap int `json:"buffer_cap" yaml:"buffer_cap"`
}

// RelatedConfig enables related-thread suggestions.
type RelatedConfig struct {
	QdrantURL  string `json:"qdrant_url" yaml:"qdrant_url"` // e.g. "localhost:6334"; empty disables
	Embedder   string `json:"embedder" yaml:"embedder"`     // "openai" or "ollama"
	Model      string `json:"model" yaml:"model"`           // embedding model
	Dimensions int    `json:"dimensions" yaml:"dimensions"` // vector size
	Limit      int    `json:"limit" yaml:"limit"`           // max suggestions
}

// Enabled reports whether related-thread suggestions are configured.
func (r RelatedConfig) Enabled() bool {
	return r.QdrantURL != "" && r.Embedder != ""
}

// Default returns sensible defaults.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Integration: IntegrationConfig{
			Name:    "Zendesk Discord Integration",
			Author:  "Discord Bridge",
			Version: "v0.1.0",
		},
		Zendesk: ZendeskConfig{
			HTTPTimeout:      Duration(10 * time.Second),
			WebhookTolerance: Duration(5 * time.Minute),
		},
		Attachment: AttachmentConfig{
			TokenTTL:     Duration(7 * 24 * time.Hour),
			FetchTimeout: Duration(10 * time.Second),
		},
		Threads: ThreadConfig{
			Placeholder:    "*No message content*",
			TagThreads:     true,
			ResolveDelay:   Duration(5 * time.Second),
			ResolvedNotice: "This thread has been marked as resolved and is now locked. Open a new post if you need more help.",
		},
		Delivery: DeliveryConfig{
			BufferCap: 1000,
		},
		Related: RelatedConfig{
			Embedder:   "openai",
			Model:      "text-embedding-ada-002",
			Dimensions: 1536,
			Limit:      5,
		},
	}
}

// Load reads configuration from a JSON or YAML file (chosen by extension),
// then applies environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Site = GetEnv("SITE", c.Site)
	if port, ok := os.LookupEnv("PORT"); ok {
		c.Addr = ":" + port
	}
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.Integration.PushClientID = GetEnv("PUSH", c.Integration.PushClientID)
	c.Zendesk.WebhookSecret = GetEnv("WEBHOOK_SECRET", c.Zendesk.WebhookSecret)
	c.Attachment.Secret = GetEnv("ATTACHMENT_SECRET", c.Attachment.Secret)
	c.Related.QdrantURL = GetEnv("QDRANT_URL", c.Related.QdrantURL)
	c.Related.Embedder = GetEnv("EMBEDDER", c.Related.Embedder)
	if v, ok := os.LookupEnv("TAG_THREADS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Threads.TagThreads = b
		}
	}
}

// Validate checks that the configuration can run a server.
func (c *Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site URL is required (set \"site\" or SITE)")
	}
	c.Site = strings.TrimSuffix(c.Site, "/")
	if c.Zendesk.HTTPTimeout <= 0 {
		return fmt.Errorf("zendesk.http_timeout must be positive")
	}
	if c.Attachment.FetchTimeout <= 0 {
		return fmt.Errorf("attachment.fetch_timeout must be positive")
	}
	if c.Threads.ResolveDelay < 0 {
		return fmt.Errorf("threads.resolve_delay must not be negative")
	}
	if c.Delivery.BufferCap < 0 {
		return fmt.Errorf("delivery.buffer_cap must not be negative")
	}
	if c.Related.Enabled() && c.Related.Embedder != "openai" && c.Related.Embedder != "ollama" {
		return fmt.Errorf("related.embedder must be \"openai\" or \"ollama\", got %q", c.Related.Embedder)
	}
	return nil
}

// GetEnv returns the environment value for key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

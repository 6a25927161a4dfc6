package model

import "time"

// Environments recognised by Config.Environment
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the complete traceguard configuration
type Config struct {
	Environment  string             `yaml:"environment" mapstructure:"environment"`
	Source       SourceConfig       `yaml:"source" mapstructure:"source"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Parser       ParserConfig       `yaml:"parser" mapstructure:"parser"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Scan         ScanConfig         `yaml:"scan" mapstructure:"scan"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// Production reports whether the configuration targets production
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// SourceConfig configures the source-repository client
type SourceConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Token             string        `yaml:"token" mapstructure:"token"`
	Ref               string        `yaml:"ref" mapstructure:"ref"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	FetchBatchSize    int           `yaml:"fetch_batch_size" mapstructure:"fetch_batch_size"`
	HTTPProxy         string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy" mapstructure:"https_proxy"`
}

// CacheConfig configures the fetched-content cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir" mapstructure:"disk_dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite or memory
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ParserConfig maps artifact kinds to repository path globs (doublestar syntax)
type ParserConfig struct {
	Patterns map[Kind][]string `yaml:"patterns" mapstructure:"patterns"`
}

// VerificationConfig configures evidence signature verification
type VerificationConfig struct {
	KeysFile        string        `yaml:"keys_file" mapstructure:"keys_file"`
	Keys            []KeyConfig   `yaml:"keys,omitempty" mapstructure:"keys"`
	AllowUnverified bool          `yaml:"allow_unverified" mapstructure:"allow_unverified"` // Development fallback only
	Algorithms      []string      `yaml:"algorithms" mapstructure:"algorithms"`
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	Leeway          time.Duration `yaml:"leeway" mapstructure:"leeway"`
}

// KeyConfig is one inline verification key (a JWK in JSON form)
type KeyConfig struct {
	KeyID string `yaml:"kid" mapstructure:"kid"`
	JWK   string `yaml:"jwk" mapstructure:"jwk"`
}

// ScanConfig tunes the scan orchestrator
type ScanConfig struct {
	ProgressTimeout time.Duration `yaml:"progress_timeout" mapstructure:"progress_timeout"`
	VerifyEvidence  bool          `yaml:"verify_evidence" mapstructure:"verify_evidence"`
}

// NotifyConfig configures scan completion notifications
type NotifyConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// MetricsConfig configures the Prometheus endpoint used by long-running commands
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Source: SourceConfig{
			BaseURL:           "https://api.github.com",
			Ref:               "main",
			Timeout:           30 * time.Second,
			UserAgent:         "traceguard/0.3 (+https://github.com/ppiankov/traceguard)",
			RequestsPerSecond: 5,
			BurstSize:         10,
			FetchBatchSize:    10,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 15 * time.Minute,
			DiskDir:   ".traceguard/cache",
			DiskTTL:   7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    ".traceguard/traceguard.db",
		},
		Parser: ParserConfig{
			Patterns: DefaultPatterns(),
		},
		Verification: VerificationConfig{
			Algorithms: []string{"EdDSA", "ES256", "RS256"},
			Workers:    8,
			Leeway:     time.Minute,
		},
		Scan: ScanConfig{
			ProgressTimeout: 2 * time.Second,
			VerifyEvidence:  true,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "traceguard",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPatterns returns the default path globs per artifact kind
func DefaultPatterns() map[Kind][]string {
	return map[Kind][]string{
		KindContext:     {"context.md", "**/context.md", "**/CONTEXT.md"},
		KindRequirement: {"requirements/**/*.md", "**/requirements/**/*.md"},
		KindStory:       {"stories/**/*.md", "**/stories/**/*.md"},
		KindSpec:        {"specs/**/*.md", "**/specs/**/*.md"},
		KindEvidence:    {"evidence/**/*.jws", "evidence/**/*.md", "**/evidence/**/*.jws", "**/evidence/**/*.md"},
	}
}

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	SSLMode  string        `mapstructure:"sslmode"`
	MaxConns int           `mapstructure:"max_conns"`
	MaxIdle  int           `mapstructure:"max_idle"`
	Lifetime time.Duration `mapstructure:"lifetime"`
}

// RedisConfig holds cache/gate-state connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TemporalConfig holds workflow engine settings.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	// Worker concurrency.
	MaxConcurrentActivities int `mapstructure:"max_concurrent_activities"`
	MaxConcurrentWorkflows  int `mapstructure:"max_concurrent_workflows"`
}

// ProvidersConfig holds endpoints and credentials for external capability
// services.
type ProvidersConfig struct {
	LLMServiceURL      string `mapstructure:"llm_service_url"`
	WebSearchURL       string `mapstructure:"web_search_url"`
	WebSearchAPIKey    string `mapstructure:"web_search_api_key"`
	AcademicSearchURL  string `mapstructure:"academic_search_url"`
	PatentSearchURL    string `mapstructure:"patent_search_url"`
	DocumentServiceURL string `mapstructure:"document_service_url"`
	LocalIndexPath     string `mapstructure:"local_index_path"`
}

// AuthConfig holds bearer-token validation settings. Token issuance is
// external; the orchestrator only verifies.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	SkipAuth  bool   `mapstructure:"skip_auth"`
}

// TracingConfig holds OTLP exporter settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ServiceConfig is the process-level configuration. Run-level defaults live
// in Defaults and are snapshotted per run; editing them never changes a run
// already in flight.
type ServiceConfig struct {
	HTTPPort    int `mapstructure:"http_port"`
	HealthPort  int `mapstructure:"health_port"`
	MetricsPort int `mapstructure:"metrics_port"`

	StreamingRingCapacity int `mapstructure:"streaming_ring_capacity"`

	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracing   TracingConfig   `mapstructure:"tracing"`

	Defaults RunConfig `mapstructure:"defaults"`
}

// Loader reads service configuration from yaml + environment and keeps a
// hot-reloadable copy. ORCH_ prefixed environment variables override file
// values (ORCH_POSTGRES_HOST, ORCH_TEMPORAL_HOST_PORT, ...).
type Loader struct {
	v      *viper.Viper
	logger *zap.Logger

	mu  sync.RWMutex
	cfg *ServiceConfig
}

// NewLoader builds a loader for the given config file path (may be empty to
// rely on defaults plus environment).
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setServiceDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	l := &Loader{v: v, logger: logger}
	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	l.cfg = cfg
	return l, nil
}

func setServiceDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("health_port", 8081)
	v.SetDefault("metrics_port", 2112)
	v.SetDefault("streaming_ring_capacity", 256)

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "orchestrator")
	v.SetDefault("postgres.database", "orchestrator")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "redis:6379")

	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.max_concurrent_activities", 10)
	v.SetDefault("temporal.max_concurrent_workflows", 10)

	v.SetDefault("providers.llm_service_url", "http://llm-service:8000")
	v.SetDefault("providers.web_search_url", "https://api.tavily.com")
	v.SetDefault("providers.academic_search_url", "https://export.arxiv.org/api/query")
	v.SetDefault("providers.document_service_url", "http://document-service:8100")

	v.SetDefault("auth.skip_auth", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research-orchestrator")
}

func (l *Loader) unmarshal() (*ServiceConfig, error) {
	cfg := &ServiceConfig{Defaults: DefaultRunConfig()}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run defaults: %w", err)
	}
	return cfg, nil
}

// Get returns the current configuration snapshot.
func (l *Loader) Get() *ServiceConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Reload re-reads the config file and swaps the snapshot. In-flight runs
// keep the RunConfig they captured at creation.
func (l *Loader) Reload() error {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to re-read config: %w", err)
		}
	}
	cfg, err := l.unmarshal()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	if l.logger != nil {
		l.logger.Info("Configuration reloaded")
	}
	return nil
}

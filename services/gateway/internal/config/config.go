package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/config"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/tracing"
)

// Config holds all configuration for the API gateway service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"GATEWAY_HTTP_PORT" envDefault:"8080"`

	// Upstreams
	AuthServiceURL string `env:"AUTH_SERVICE_URL" envDefault:"http://localhost:3001"`
	APIServiceURL  string `env:"API_SERVICE_URL" envDefault:"http://localhost:3000"`

	// Verify calls to the auth service
	VerifyTimeout        time.Duration `env:"GATEWAY_VERIFY_TIMEOUT" envDefault:"3s"`
	VerifyMaxRetries     int           `env:"GATEWAY_VERIFY_MAX_RETRIES" envDefault:"1"`
	BreakerTimeout       time.Duration `env:"GATEWAY_BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerFailureRatio  float64       `env:"GATEWAY_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests   uint32        `env:"GATEWAY_BREAKER_MIN_REQUESTS" envDefault:"5"`
	ProxyResponseTimeout time.Duration `env:"GATEWAY_PROXY_RESPONSE_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"100"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"200"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// /metrics and pprof are reachable only from these networks.
	MetricsAllowedCIDRs []string `env:"METRICS_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128,10.0.0.0/8" envSeparator:","`
	PprofAllowedCIDRs   []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	Tracing tracing.Config
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}
	cfg.Tracing.ServiceName = "gateway"
	return cfg, nil
}

// Validate is called by pkgconfig.Load once the environment is parsed.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	for name, raw := range map[string]string{
		"AUTH_SERVICE_URL": c.AuthServiceURL,
		"API_SERVICE_URL":  c.APIServiceURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("GATEWAY_VERIFY_TIMEOUT must be positive, got %s", c.VerifyTimeout)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("GATEWAY_BREAKER_FAILURE_RATIO must be in (0, 1], got %v", c.BreakerFailureRatio)
	}
	return nil
}

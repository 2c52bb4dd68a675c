package infra

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"tpsl_monitor/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the monitor.
// Values from LoadConfig are layered: defaults < yaml file < .env / environment.
type Config struct {
	App struct {
		Name      string `yaml:"name"`
		Version   string `yaml:"version"`
		PprofAddr string `yaml:"pprof_addr"` // empty: disabled
	} `yaml:"app"`

	Feed struct {
		WSURL               string `yaml:"ws_url"`
		QuoteSuffix         string `yaml:"quote_suffix"`
		TopicPrefix         string `yaml:"topic_prefix"`
		ReconnectDelayMS    int    `yaml:"reconnect_delay_ms"`
		PingIntervalSec     int    `yaml:"ping_interval_sec"`
		ReadTimeoutSec      int    `yaml:"read_timeout_sec"`
		HandshakeTimeoutSec int    `yaml:"handshake_timeout_sec"`
		WriteTimeoutSec     int    `yaml:"write_timeout_sec"`
	} `yaml:"feed"`

	Engine struct {
		PriceInboxSize    int `yaml:"price_inbox_size"`
		TriggerQueueSize  int `yaml:"trigger_queue_size"`
		DispatchTimeoutMS int `yaml:"dispatch_timeout_ms"`
	} `yaml:"engine"`

	HTTP struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`

	Settlement struct {
		URL        string `yaml:"url"` // empty: journal only
		APIKey     string `yaml:"api_key"`
		Secret     string `yaml:"secret"` // empty: unsigned requests
		TimeoutSec int    `yaml:"timeout_sec"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"settlement"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"` // empty: OS config dir
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration that connects to the Bybit linear stream.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "tpsl-monitor"
	cfg.App.Version = "0.1.0"

	cfg.Feed.WSURL = "wss://stream.bybit.com/v5/public/linear"
	cfg.Feed.QuoteSuffix = "USDT"
	cfg.Feed.TopicPrefix = "tickers."
	cfg.Feed.ReconnectDelayMS = 3000
	cfg.Feed.PingIntervalSec = 20
	cfg.Feed.ReadTimeoutSec = 60
	cfg.Feed.HandshakeTimeoutSec = 10
	cfg.Feed.WriteTimeoutSec = 10

	cfg.Engine.PriceInboxSize = 1024
	cfg.Engine.TriggerQueueSize = 256
	cfg.Engine.DispatchTimeoutMS = 10000

	cfg.HTTP.Host = "0.0.0.0"
	cfg.HTTP.Port = 3001
	cfg.HTTP.AllowedOrigins = []string{"*"}

	cfg.Settlement.TimeoutSec = 10
	cfg.Settlement.MaxRetries = 3

	cfg.Storage.Enabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads the yaml file at path over the defaults.
// A missing file is reported as domain.ErrConfigNotFound together with the usable defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			overrideWithEnv(cfg)
			if vErr := cfg.Validate(); vErr != nil {
				return nil, fmt.Errorf("invalid configuration: %w", vErr)
			}
			return cfg, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return &domain.ConfigError{Field: "feed.ws_url", Err: fmt.Errorf("invalid websocket URL %q", c.Feed.WSURL)}
	}
	if c.Feed.QuoteSuffix == "" {
		return &domain.ConfigError{Field: "feed.quote_suffix", Err: errors.New("must not be empty")}
	}
	if c.Feed.QuoteSuffix != strings.ToUpper(c.Feed.QuoteSuffix) {
		return &domain.ConfigError{Field: "feed.quote_suffix", Err: fmt.Errorf("must be upper case, got %q", c.Feed.QuoteSuffix)}
	}
	if c.Feed.TopicPrefix == "" {
		return &domain.ConfigError{Field: "feed.topic_prefix", Err: errors.New("must not be empty")}
	}
	if c.Feed.ReconnectDelayMS <= 0 {
		return &domain.ConfigError{Field: "feed.reconnect_delay_ms", Err: errors.New("must be positive")}
	}
	if c.Feed.PingIntervalSec <= 0 || c.Feed.ReadTimeoutSec <= 0 || c.Feed.HandshakeTimeoutSec <= 0 || c.Feed.WriteTimeoutSec <= 0 {
		return &domain.ConfigError{Field: "feed", Err: errors.New("intervals and timeouts must be positive")}
	}
	if c.Engine.PriceInboxSize <= 0 || c.Engine.TriggerQueueSize <= 0 {
		return &domain.ConfigError{Field: "engine", Err: errors.New("queue sizes must be positive")}
	}
	if c.Engine.DispatchTimeoutMS <= 0 {
		return &domain.ConfigError{Field: "engine.dispatch_timeout_ms", Err: errors.New("must be positive")}
	}
	if c.Settlement.URL != "" && !strings.HasPrefix(c.Settlement.URL, "http://") && !strings.HasPrefix(c.Settlement.URL, "https://") {
		return &domain.ConfigError{Field: "settlement.url", Err: fmt.Errorf("invalid URL %q", c.Settlement.URL)}
	}
	if c.Settlement.TimeoutSec <= 0 || c.Settlement.MaxRetries <= 0 {
		return &domain.ConfigError{Field: "settlement", Err: errors.New("timeout and retries must be positive")}
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return &domain.ConfigError{Field: "http.port", Err: fmt.Errorf("out of range: %d", c.HTTP.Port)}
	}
	return nil
}

// ReconnectDelay is the fixed wait between a disconnect and the next dial.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelayMS) * time.Millisecond
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Feed.PingIntervalSec) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Feed.ReadTimeoutSec) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Feed.HandshakeTimeoutSec) * time.Second
}

// WriteTimeout bounds a single websocket write.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Feed.WriteTimeoutSec) * time.Second
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Engine.DispatchTimeoutMS) * time.Millisecond
}

func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.Settlement.TimeoutSec) * time.Second
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// overrideWithEnv overwrites settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("TPSL_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if level := os.Getenv("TPSL_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("TPSL_LOG_DIR"); dir != "" {
		cfg.Logging.Dir = dir
	}
	if path := os.Getenv("TPSL_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if url := os.Getenv("TPSL_SETTLEMENT_URL"); url != "" {
		cfg.Settlement.URL = url
	}
	if key := os.Getenv("TPSL_SETTLEMENT_KEY"); key != "" {
		cfg.Settlement.APIKey = key
	}
	if secret := os.Getenv("TPSL_SETTLEMENT_SECRET"); secret != "" {
		cfg.Settlement.Secret = secret
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string    `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string    `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	API         API       `yaml:"api"`
	Transport   Transport `yaml:"transport"`
	Sync        Sync      `yaml:"sync"`
	Auth        Auth      `yaml:"auth"`
	Bridge      Bridge    `yaml:"bridge"`
}

// API is the marketplace REST collaborator.
type API struct {
	BaseURL         string        `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"API_REQUEST_TIMEOUT" env-default:"15s"`
	HistoryPageSize int           `yaml:"history_page_size" env:"API_HISTORY_PAGE_SIZE" env-default:"50"`
}

type Transport struct {
	URL           string        `yaml:"url" env:"WS_URL" env-default:"ws://localhost:8080/ws"`
	AuthCloseCode int           `yaml:"auth_close_code" env:"WS_AUTH_CLOSE_CODE" env-default:"4001"`
	MaxRetries    int           `yaml:"max_retries" env:"WS_MAX_RETRIES" env-default:"10"`
	BackoffMin    time.Duration `yaml:"backoff_min" env:"WS_BACKOFF_MIN" env-default:"1s"`
	BackoffMax    time.Duration `yaml:"backoff_max" env:"WS_BACKOFF_MAX" env-default:"30s"`
	PingPeriod    time.Duration `yaml:"ping_period" env:"WS_PING_PERIOD" env-default:"30s"`
	PongWait      time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT" env-default:"60s"`
	WriteWait     time.Duration `yaml:"write_wait" env:"WS_WRITE_WAIT" env-default:"10s"`
	SendBuffer    int           `yaml:"send_buffer" env:"WS_SEND_BUFFER" env-default:"256"`
}

// Sync holds the reconciliation windows and typing timings.
type Sync struct {
	EchoMatchWindow time.Duration `yaml:"echo_match_window" env:"SYNC_ECHO_MATCH_WINDOW" env-default:"30s"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" env:"SYNC_DUPLICATE_WINDOW" env-default:"5s"`
	AckTimeout      time.Duration `yaml:"ack_timeout" env:"SYNC_ACK_TIMEOUT" env-default:"3s"`
	TypingTTL       time.Duration `yaml:"typing_ttl" env:"SYNC_TYPING_TTL" env-default:"5s"`
	TypingIdle      time.Duration `yaml:"typing_idle" env:"SYNC_TYPING_IDLE" env-default:"1s"`
	TypingRefresh   time.Duration `yaml:"typing_refresh" env:"SYNC_TYPING_REFRESH" env-default:"3s"`
	CreateGrace     time.Duration `yaml:"create_grace" env:"SYNC_CREATE_GRACE" env-default:"2s"`
	SendBurst       int           `yaml:"send_burst" env:"SYNC_SEND_BURST" env-default:"10"`
	SendInterval    time.Duration `yaml:"send_interval" env:"SYNC_SEND_INTERVAL" env-default:"500ms"`
}

type Auth struct {
	Token string `yaml:"token" env:"AUTH_TOKEN"`
	// UserID overrides the id derived from the token claims.
	UserID string `yaml:"user_id" env:"AUTH_USER_ID"`
}

// Bridge is the local HTTP surface the UI talks to.
type Bridge struct {
	Host      string `yaml:"host" env:"BRIDGE_HOST" env-default:"127.0.0.1"`
	Port      string `yaml:"port" env:"BRIDGE_PORT" env-default:"7070"`
	AccessKey string `yaml:"access_key" env:"BRIDGE_ACCESS_KEY"`
}

func (b Bridge) Address() string {
	return b.Host + ":" + b.Port
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile reads a YAML file; environment variables override file values.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Transport.BackoffMin <= 0 || c.Transport.BackoffMax < c.Transport.BackoffMin {
		return fmt.Errorf("invalid backoff range %s..%s", c.Transport.BackoffMin, c.Transport.BackoffMax)
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Transport.PingPeriod >= c.Transport.PongWait {
		return fmt.Errorf("ping period %s must be shorter than pong wait %s", c.Transport.PingPeriod, c.Transport.PongWait)
	}
	if c.API.HistoryPageSize <= 0 {
		c.API.HistoryPageSize = 50
	}
	return nil
}

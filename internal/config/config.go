// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"arewa.org/internal/access"
	"arewa.org/internal/store/pg"
)

type Config struct {
	LogLevel  string    `yaml:"log_level" env:"ARCHIVE_LOG_LEVEL" env-default:"info"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Auth      Auth      `yaml:"auth"`
	Access    Access    `yaml:"access"`
	Downloads Downloads `yaml:"downloads"`
}

type HTTP struct {
	Addr              string        `yaml:"addr" env:"ARCHIVE_HTTP_ADDR" env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"ARCHIVE_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"ARCHIVE_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"ARCHIVE_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"ARCHIVE_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"ARCHIVE_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"ARCHIVE_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	// Per client IP, requests per minute.
	RatePerMinute int `yaml:"rate_per_minute" env:"ARCHIVE_HTTP_RATE_PER_MINUTE" env-default:"100"`
	RateBurst     int `yaml:"rate_burst" env:"ARCHIVE_HTTP_RATE_BURST" env-default:"20"`
	// Addresses or CIDRs whose X-Forwarded-For is believed. Empty means
	// the client is always the TCP peer.
	TrustedProxies []string `yaml:"trusted_proxies" env:"ARCHIVE_HTTP_TRUSTED_PROXIES" env-separator:","`
}

// Proxies parses TrustedProxies. A bare address is taken as a single-host prefix.
func (h HTTP) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type GRPC struct {
	Addr string `yaml:"addr" env:"ARCHIVE_GRPC_ADDR" env-default:":9090"`
}

type Postgres struct {
	// Empty DSN runs the service on in-memory repositories.
	DSN             string        `yaml:"dsn" env:"ARCHIVE_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"ARCHIVE_PG_MAX_OPEN_CONNS" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"ARCHIVE_PG_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"ARCHIVE_PG_CONN_MAX_LIFETIME" env-default:"15m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"ARCHIVE_PG_CONN_MAX_IDLE_TIME" env-default:"5m"`
	ResourceCache   int           `yaml:"resource_cache" env:"ARCHIVE_PG_RESOURCE_CACHE" env-default:"4096"`
	ResourceTTL     time.Duration `yaml:"resource_ttl" env:"ARCHIVE_PG_RESOURCE_TTL" env-default:"30s"`
}

// Pool converts the settings for pg.Open.
func (p Postgres) Pool() pg.PoolConfig {
	return pg.PoolConfig{
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		ConnMaxIdleTime: p.ConnMaxIdleTime,
	}
}

type Redis struct {
	// Empty address keeps counters and download tokens in process memory.
	Addr     string `yaml:"addr" env:"ARCHIVE_REDIS_ADDR"`
	Password string `yaml:"password" env:"ARCHIVE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"ARCHIVE_REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"ARCHIVE_REDIS_PREFIX" env-default:"archive:"`
}

type Auth struct {
	TokenTTL           time.Duration `yaml:"token_ttl" env:"ARCHIVE_TOKEN_TTL" env-default:"24h"`
	CleanupGrace       time.Duration `yaml:"cleanup_grace" env:"ARCHIVE_TOKEN_CLEANUP_GRACE" env-default:"24h"`
	LoginLimit         int           `yaml:"login_limit" env:"ARCHIVE_LOGIN_LIMIT" env-default:"5"`
	LoginLockout       time.Duration `yaml:"login_lockout" env:"ARCHIVE_LOGIN_LOCKOUT" env-default:"300s"`
	TokenFailureLimit  int           `yaml:"token_failure_limit" env:"ARCHIVE_TOKEN_FAILURE_LIMIT" env-default:"100"`
	TokenFailureWindow time.Duration `yaml:"token_failure_window" env:"ARCHIVE_TOKEN_FAILURE_WINDOW" env-default:"1h"`
	SweepSchedule      string        `yaml:"sweep_schedule" env:"ARCHIVE_TOKEN_SWEEP_SCHEDULE" env-default:"@hourly"`
}

type Access struct {
	ApprovalWindow time.Duration `yaml:"approval_window" env:"ARCHIVE_APPROVAL_WINDOW" env-default:"720h"`
	CodePrefix     string        `yaml:"code_prefix" env:"ARCHIVE_REQUEST_CODE_PREFIX" env-default:"ACC"`
	PurposeMin     int           `yaml:"purpose_min" env:"ARCHIVE_PURPOSE_MIN" env-default:"50"`
	PurposeMax     int           `yaml:"purpose_max" env:"ARCHIVE_PURPOSE_MAX" env-default:"1000"`
	MinDays        int           `yaml:"min_days" env:"ARCHIVE_REQUEST_MIN_DAYS" env-default:"1"`
	MaxDays        int           `yaml:"max_days" env:"ARCHIVE_REQUEST_MAX_DAYS" env-default:"30"`
}

// Rules converts the settings for access.WithRules.
func (a Access) Rules() access.Rules {
	return access.Rules{
		CodePrefix:     a.CodePrefix,
		PurposeMin:     a.PurposeMin,
		PurposeMax:     a.PurposeMax,
		MinDays:        a.MinDays,
		MaxDays:        a.MaxDays,
		ApprovalWindow: a.ApprovalWindow,
	}
}

type Downloads struct {
	DailyLimit int           `yaml:"daily_limit" env:"ARCHIVE_DOWNLOAD_DAILY_LIMIT" env-default:"10"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"ARCHIVE_DOWNLOAD_TOKEN_TTL" env-default:"300s"`
	Timezone   string        `yaml:"timezone" env:"ARCHIVE_DOWNLOAD_TIMEZONE" env-default:"UTC"`
}

// Location resolves the zone whose midnight resets the daily quota.
func (d Downloads) Location() (*time.Location, error) {
	return time.LoadLocation(d.Timezone)
}

// Load reads path when it is non-empty and then applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RatePerMinute <= 0 || c.HTTP.RateBurst <= 0 {
		errs = append(errs, errors.New("http rate and burst must be positive"))
	}
	if _, err := c.HTTP.Proxies(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.CleanupGrace < 0 {
		errs = append(errs, errors.New("auth.cleanup_grace must not be negative"))
	}
	if c.Auth.LoginLimit <= 0 || c.Auth.LoginLockout <= 0 {
		errs = append(errs, errors.New("auth login limit and lockout must be positive"))
	}
	if c.Auth.TokenFailureLimit <= 0 || c.Auth.TokenFailureWindow <= 0 {
		errs = append(errs, errors.New("auth token failure limit and window must be positive"))
	}
	if c.Access.ApprovalWindow <= 0 {
		errs = append(errs, errors.New("access.approval_window must be positive"))
	}
	if c.Access.PurposeMin < 0 || c.Access.PurposeMax < c.Access.PurposeMin {
		errs = append(errs, errors.New("access purpose bounds are inconsistent"))
	}
	if c.Access.MinDays < 1 || c.Access.MaxDays < c.Access.MinDays {
		errs = append(errs, errors.New("access duration bounds are inconsistent"))
	}
	if c.Downloads.DailyLimit <= 0 || c.Downloads.TokenTTL <= 0 {
		errs = append(errs, errors.New("downloads daily limit and token ttl must be positive"))
	}
	if _, err := c.Downloads.Location(); err != nil {
		errs = append(errs, fmt.Errorf("downloads.timezone: %w", err))
	}
	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type App struct {
	Env     string `yaml:"env"`
	Port    int    `yaml:"port"`
	Timeout string `yaml:"shutdown_timeout"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
	// Per-call deadline for store operations; a call past this fails as
	// store-unavailable instead of hanging.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (m *Mongo) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TTL of the cached room list per user.
	RoomTTLSeconds int `yaml:"room_ttl_seconds"`
}

func (r *Redis) RoomTTL() time.Duration {
	if r.RoomTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.RoomTTLSeconds) * time.Second
}

type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	NotifyTopic string   `yaml:"notify_topic"`
}

type JWT struct {
	Alg           string `yaml:"alg"`
	PublicKeyPath string `yaml:"public_key_path"`
	HSSecret      string `yaml:"hs_secret"`
}

type Chat struct {
	// Messages a non-friend sender may store before the pair must be friends.
	PreviewAllowance int `yaml:"preview_allowance"`
	// How long the reconciler buffers an update for a not-yet-seen document.
	ReconcileWindowSeconds int `yaml:"reconcile_window_seconds"`
}

func (c *Chat) Allowance() int {
	if c.PreviewAllowance <= 0 {
		return 1
	}
	return c.PreviewAllowance
}

func (c *Chat) ReconcileWindow() time.Duration {
	if c.ReconcileWindowSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReconcileWindowSeconds) * time.Second
}

type Config struct {
	App   App   `yaml:"app"`
	Mongo Mongo `yaml:"mongo"`
	Redis Redis `yaml:"redis"`
	Kafka Kafka `yaml:"kafka"`
	JWT   JWT   `yaml:"jwt"`
	Chat  Chat  `yaml:"chat"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		b, _ := os.ReadFile("config.yaml")
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.App.Port = n
	}

	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		cfg.Mongo.DB = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_NOTIFY_TOPIC"); v != "" {
		cfg.Kafka.NotifyTopic = v
	}

	if v := os.Getenv("JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.JWT.PublicKeyPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.HSSecret = v
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}

	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}

	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	if cfg.Kafka.NotifyTopic == "" {
		return errors.New("kafka.notify_topic missing")
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	return nil
}

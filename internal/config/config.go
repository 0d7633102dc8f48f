package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTP  HTTPConfig  `mapstructure:"http"`
	DB    DBConfig    `mapstructure:"db"`
	Redis RedisConfig `mapstructure:"redis"`
	Auth  AuthConfig  `mapstructure:"auth"`
	Chat  ChatConfig  `mapstructure:"chat"`
	Log   LogConfig   `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	// Addr empty keeps relay traffic inside the process.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ChatConfig struct {
	SendBuffer          int   `mapstructure:"send_buffer"`
	MaxMessageSize      int64 `mapstructure:"max_message_size"`
	EventsPerSecond     int   `mapstructure:"events_per_second"`
	EnforceParticipants bool  `mapstructure:"enforce_participants"`
	RelayOnCommit       bool  `mapstructure:"relay_on_commit"`
}

type LogConfig struct {
	Level uint   `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "petconnect:relay")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("chat.send_buffer", 256)
	v.SetDefault("chat.max_message_size", 64<<10)
	v.SetDefault("chat.events_per_second", 20)
	v.SetDefault("chat.enforce_participants", true)
	v.SetDefault("chat.relay_on_commit", false)
	v.SetDefault("log.level", 0)
	v.SetDefault("log.path", "")

	v.SetEnvPrefix("petconnect")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the existing deployment manifests.
	_ = v.BindEnv("db.dsn", "PETCONNECT_DB_DSN", "DB_DSN")
	_ = v.BindEnv("auth.jwt_secret", "PETCONNECT_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "PETCONNECT_REDIS_ADDR", "REDIS_ADDR")
}

// Load reads the optional config file and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is not set")
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return errors.Errorf("db.driver %q is not postgres or sqlite", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn (DB_DSN) is not set")
	}
	if c.Chat.EventsPerSecond <= 0 {
		return errors.New("chat.events_per_second must be positive")
	}
	return nil
}

// Package config holds the server configuration, populated from defaults
// and optionally overwritten by a TOML file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig
	Security    SecurityConfig
	Matchmaking MatchmakingConfig
	Rating      RatingConfig
	Database    DatabaseConfig
}

type ServerConfig struct {
	Port                            int
	BindAddress                     string
	MaxConnections                  int
	HeartbeatIntervalSeconds        int
	ConnectionTimeoutSeconds        int
	MaxRequestsPerMinute            int
	DisconnectionGracePeriodSeconds int
}

type SecurityConfig struct {
	TokenSecret          string
	TokenExpirationHours int
	MaxSessionsPerPlayer int
}

type MatchmakingConfig struct {
	DefaultRatingRange             int
	MaxRatingRange                 int
	RatingExpansionIntervalSeconds int
	RatingExpansionAmount          int
}

type RatingConfig struct {
	DefaultRating int
	KFactor       int
	MinRating     int
	MaxRating     int
}

type DatabaseConfig struct {
	UseInMemory bool
	Path        string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:                            8787,
			BindAddress:                     "0.0.0.0",
			MaxConnections:                  1000,
			HeartbeatIntervalSeconds:        10,
			ConnectionTimeoutSeconds:        60,
			MaxRequestsPerMinute:            120,
			DisconnectionGracePeriodSeconds: 30,
		},
		Security: SecurityConfig{
			TokenExpirationHours: 24,
			MaxSessionsPerPlayer: 5,
		},
		Matchmaking: MatchmakingConfig{
			DefaultRatingRange:             100,
			MaxRatingRange:                 500,
			RatingExpansionIntervalSeconds: 10,
			RatingExpansionAmount:          50,
		},
		Rating: RatingConfig{
			DefaultRating: 1200,
			KFactor:       32,
			MinRating:     100,
			MaxRating:     3000,
		},
		Database: DatabaseConfig{
			Path: "gambit.db",
		},
	}
}

// Load reads the TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config %v: %w", path, err)
	}
	return cfg, nil
}

// ApplyDevMode switches to in-memory stores, a per-process ephemeral token
// secret and a relaxed rate limit.
func (c *Config) ApplyDevMode() {
	c.Database.UseInMemory = true
	c.Server.MaxRequestsPerMinute = 10 * c.Server.MaxRequestsPerMinute
	if c.Security.TokenSecret == "" {
		var buf [32]byte
		_, _ = rand.Read(buf[:])
		c.Security.TokenSecret = hex.EncodeToString(buf[:])
	}
}

func (c ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c ServerConfig) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

func (c ServerConfig) DisconnectionGracePeriod() time.Duration {
	return time.Duration(c.DisconnectionGracePeriodSeconds) * time.Second
}

func (c SecurityConfig) TokenExpiration() time.Duration {
	return time.Duration(c.TokenExpirationHours) * time.Hour
}

func (c MatchmakingConfig) RatingExpansionInterval() time.Duration {
	return time.Duration(c.RatingExpansionIntervalSeconds) * time.Second
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %v", c.Server.Port)
	}
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("Security.TokenSecret is required")
	}
	if c.Rating.MinRating >= c.Rating.MaxRating {
		return fmt.Errorf("invalid rating bounds: [%v, %v]", c.Rating.MinRating, c.Rating.MaxRating)
	}
	if !c.Database.UseInMemory && c.Database.Path == "" {
		return fmt.Errorf("Database.Path is required unless in-memory")
	}
	return nil
}

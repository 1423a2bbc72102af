// Package config holds the environment-backed server configuration. Every
// field can be populated from the environment through cleanenv tags, or set
// directly in code.
package config

import (
	"fmt"
	"time"

	"github.com/tenvia/idp-core/pkg/realm"
)

// DatabaseConfig holds the PostgreSQL connection settings used when the
// token store runs on postgres.
type DatabaseConfig struct {
	Host     string `env:"IDP_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDP_PG_PORT" env-default:"5432"`
	Database string `env:"IDP_PG_DATABASE" env-default:"idp_db"`
	User     string `env:"IDP_PG_USER" env-default:"idp"`
	Password string `env:"IDP_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"IDP_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL.
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// RedisConfig holds the Redis connection settings used when the token store
// runs on redis.
type RedisConfig struct {
	Addr     string `env:"IDP_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"IDP_REDIS_PASSWORD" env-default:""`
	DB       int    `env:"IDP_REDIS_DB" env-default:"0"`
}

// StoreConfig selects and configures the token store backend.
type StoreConfig struct {
	// Backend is one of "inmem", "postgres", "redis".
	Backend  string `env:"IDP_TOKEN_STORE" env-default:"inmem"`
	Database DatabaseConfig
	Redis    RedisConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `env:"IDP_HOST" env-default:"localhost"`
	Port uint16 `env:"IDP_PORT" env-default:"4000"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RealmConfig holds the settings of the default realm.
type RealmConfig struct {
	Name                         string        `env:"IDP_REALM_NAME" env-default:"main"`
	MaxInactivity                time.Duration `env:"IDP_SESSION_MAX_INACTIVITY" env-default:"30m"`
	BlockAfterUnsuccessfulLogins int           `env:"IDP_BLOCK_AFTER_FAILURES" env-default:"5"`
	BlockFor                     time.Duration `env:"IDP_BLOCK_FOR" env-default:"1m"`
	RememberMePolicy             string        `env:"IDP_REMEMBER_ME_POLICY" env-default:"disallow"`
	AllowForRememberMeDays       int           `env:"IDP_REMEMBER_ME_DAYS" env-default:"14"`
}

// ToRealm converts the config to a realm.
func (r RealmConfig) ToRealm() *realm.Realm {
	return &realm.Realm{
		Name:                         r.Name,
		MaxInactivity:                r.MaxInactivity,
		BlockAfterUnsuccessfulLogins: r.BlockAfterUnsuccessfulLogins,
		BlockFor:                     r.BlockFor,
		RememberMePolicy:             realm.RememberMePolicy(r.RememberMePolicy),
		AllowForRememberMeDays:       r.AllowForRememberMeDays,
	}
}

// AssertionConfig holds the session assertion JWT settings.
type AssertionConfig struct {
	Secret   string        `env:"IDP_JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer   string        `env:"IDP_JWT_ISSUER" env-default:"idp-core"`
	Audience string        `env:"IDP_JWT_AUDIENCE" env-default:"idp-core"`
	Validity time.Duration `env:"IDP_JWT_VALIDITY" env-default:"1h"`
}

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Realm     RealmConfig
	Assertion AssertionConfig

	// ReaperPeriod is how often expired sessions are swept.
	ReaperPeriod time.Duration `env:"IDP_REAPER_PERIOD" env-default:"30s"`
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "inmem", "postgres", "redis":
	default:
		return fmt.Errorf("unknown token store backend %q", c.Store.Backend)
	}
	if err := c.Realm.ToRealm().Validate(); err != nil {
		return err
	}
	if c.ReaperPeriod <= 0 {
		return fmt.Errorf("reaper period must be positive, got %v", c.ReaperPeriod)
	}
	return nil
}

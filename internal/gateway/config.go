package gateway

import (
	"fmt"
	"time"
)

// Config holds gateway server configuration.
//
// Example YAML configuration:
//
//	gateway:
//	  enabled: true
//	  host: 127.0.0.1
//	  port: 9191
//	  jwt_secret: ${HOURGLASS_JWT_SECRET}
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// JWTSecret enables HS256 bearer auth on /api/v1 and /ws when set.
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// DefaultConfig binds to localhost without auth.
func DefaultConfig() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     9191,
		TokenTTL: 24 * time.Hour,
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	if !c.Enabled {
		return nil
	}
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("gateway.port %d is out of range", c.Port))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		problems = append(problems, "gateway.jwt_secret must be at least 16 characters")
	}
	if c.Host != "127.0.0.1" && c.Host != "localhost" && c.JWTSecret == "" {
		problems = append(problems, "gateway.jwt_secret is required when binding beyond localhost")
	}
	return problems
}

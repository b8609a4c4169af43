package config

import (
	"net"
	"strconv"
	"time"
)

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedWSOrigins lists additional origin patterns accepted on the
	// WebSocket upgrade, on top of the listen host itself.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// ShutdownTimeout bounds the graceful drain of in-flight HTTP requests.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: Duration(5 * time.Second),
	}
}

// Addr renders the host:port listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

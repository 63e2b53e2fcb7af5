package core

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the relink
// client and its console harness.
type Config struct {
	Server struct {
		// Hostname or IP address of the multiworld server.
		Host string `mapstructure:"host"`
		// Port on which the multiworld server accepts WebSocket connections.
		Port int `mapstructure:"port"`
		// Maximum time to wait for the WebSocket handshake to complete.
		DialTimeoutMs int `mapstructure:"dial_timeout_ms"`
	} `mapstructure:"server"`

	Client struct {
		// Name of the game this client participates as.
		Game string `mapstructure:"game"`
		// Slot name used to authenticate with the server.
		Slot string `mapstructure:"slot"`
		// Room password, if the room requires one.
		Password string `mapstructure:"password"`
		// Maximum time allowed between handshake steps before the session is
		// failed. Zero disables the limit.
		HandshakeTimeoutMs int `mapstructure:"handshake_timeout_ms"`
	} `mapstructure:"client"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Debugging struct {
		// Log decoded frames to the debug log as they are sent and received.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "RELINK"

// LoadConfig initializes Viper with the contents of the config file under
// configPath and returns the unmarshalled Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the defaults describe a usable client.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, server.host can be set using: RELINK_SERVER_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "archipelago.gg")
	v.SetDefault("server.port", 38281)
	v.SetDefault("server.dial_timeout_ms", 10000)
	v.SetDefault("client.game", "Selaco")
	v.SetDefault("client.handshake_timeout_ms", 0)
	v.SetDefault("logging.log_level", "info")
}

// ServerAddress returns the host:port pair of the configured multiworld server.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SetServerAddress overrides the configured server from a host:port pair. A
// bare hostname keeps the configured port.
func (c *Config) SetServerAddress(address string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		c.Server.Host = address
		return
	}
	c.Server.Host = host
	if p, err := strconv.Atoi(port); err == nil {
		c.Server.Port = p
	}
}

// DialTimeout returns the configured WebSocket handshake timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Server.DialTimeoutMs) * time.Millisecond
}

// HandshakeTimeout returns the configured per-step protocol handshake limit,
// or zero if no limit should be enforced.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Client.HandshakeTimeoutMs) * time.Millisecond
}

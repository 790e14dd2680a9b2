package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Servers map[string]string `mapstructure:"servers"` // name -> "host:port"
	Tracker TrackerConfig     `mapstructure:"tracker"`
	Storage StorageConfig     `mapstructure:"storage"`
	Logging LoggingConfig     `mapstructure:"logging"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Chat    ChatConfig        `mapstructure:"chat"`
}

// TrackerConfig defines polling and checkpoint cadence
type TrackerConfig struct {
	PollInterval   string `mapstructure:"poll_interval"`
	ReloadInterval string `mapstructure:"reload_interval"`
	ProbeTimeout   string `mapstructure:"probe_timeout"`
	ProbeRetries   uint64 `mapstructure:"probe_retries"`
}

// StorageConfig defines the record store backend
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "file" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// ChatConfig defines the delivery-layer settings the core passes through
type ChatConfig struct {
	ChannelName   string `mapstructure:"channel_name"`
	CommandPrefix string `mapstructure:"command_prefix"`
}

// ServerSpec is one configured game server with its address split out.
type ServerSpec struct {
	Name string
	Host string
	Port int
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ServerList parses the configured server map into specs sorted by name,
// giving a deterministic polling and display order.
func (c *Config) ServerList() ([]ServerSpec, error) {
	specs := make([]ServerSpec, 0, len(c.Servers))
	for name, addr := range c.Servers {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("server %s: invalid address %q: %w", name, addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("server %s: invalid port %q", name, portStr)
		}
		specs = append(specs, ServerSpec{Name: name, Host: host, Port: port})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Tracker defaults
	v.SetDefault("tracker.poll_interval", "20s")
	v.SetDefault("tracker.reload_interval", "5m")
	v.SetDefault("tracker.probe_timeout", "3s")
	v.SetDefault("tracker.probe_retries", 2)

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "/var/lib/ptrack/players")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)

	// Chat defaults
	v.SetDefault("chat.channel_name", "player-logs")
	v.SetDefault("chat.command_prefix", ".")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("at least one game server is required")
	}
	if _, err := cfg.ServerList(); err != nil {
		return err
	}

	switch cfg.Storage.Type {
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}

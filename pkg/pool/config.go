package pool

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for an apppool process. It is loaded the
// way the teacher repo's Config is: viper defaults, overridable by a YAML
// file and APPPOOL_-prefixed environment variables.
type Config struct {
	Pool     GlobalPoolConfig `mapstructure:"pool"`
	Spawner  SpawnerConfig    `mapstructure:"spawner"`
	Socket   SocketConfig     `mapstructure:"socket"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Protocol ProtocolConfig   `mapstructure:"protocol"`
}

// ProtocolConfig selects the wire-body codec used by the worker session
// protocol and the admin event feed (spec.md §6's body encoding is
// otherwise unspecified beyond the NUL-delimited array header).
type ProtocolConfig struct {
	// BodyCodec picks the body serialization for the admin event feed and
	// OOBW probe payloads: "stdlib", "goccy", "segmentio", or "msgpack".
	BodyCodec string `mapstructure:"body_codec"`
}

// GlobalPoolConfig mirrors spec.md §3's Pool attributes (max, maxIdleTime).
type GlobalPoolConfig struct {
	Max         int           `mapstructure:"max"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
}

// SpawnerConfig configures the spawn-server protocol client (spec.md §6).
type SpawnerConfig struct {
	Executable  string        `mapstructure:"executable"`
	SpawnMethod string        `mapstructure:"spawn_method"`
	SpawnTimeout time.Duration `mapstructure:"spawn_timeout"`
	// RestartOnFailure and RestartBackoff resolve the Open Question in
	// spec.md §9 ("implementers should expose it as configuration rather
	// than guess"): whether a sustained spawn-failure loop backs off, and
	// with what schedule. See DESIGN.md for the decision.
	RestartOnFailure bool          `mapstructure:"restart_on_failure"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64      `mapstructure:"backoff_multiplier"`
}

// SocketConfig defines where Process listen sockets live on disk, grounded
// on the teacher's SocketManager.
type SocketConfig struct {
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	Permissions uint32 `mapstructure:"permissions"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines the admin/metrics surface.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	HTTPAddr    string `mapstructure:"http_addr"`
	WSPath      string `mapstructure:"ws_path"`
	AdminSecret string `mapstructure:"admin_secret"`
}

// LoadConfig loads Config from file and environment, the way the teacher's
// LoadConfig does.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("apppool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/apppool")
	}

	v.SetEnvPrefix("APPPOOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Pool.MaxIdleTime *= time.Second
	cfg.Spawner.SpawnTimeout *= time.Second
	cfg.Spawner.InitialBackoff *= time.Millisecond
	cfg.Spawner.MaxBackoff *= time.Millisecond

	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("pool.max", 6)
	v.SetDefault("pool.max_idle_time", 300)

	v.SetDefault("spawner.executable", "apppool-spawn-server")
	v.SetDefault("spawner.spawn_method", "smart")
	v.SetDefault("spawner.spawn_timeout", 60)
	v.SetDefault("spawner.restart_on_failure", false)
	v.SetDefault("spawner.initial_backoff", 1000)
	v.SetDefault("spawner.max_backoff", 30000)
	v.SetDefault("spawner.backoff_multiplier", 2.0)

	v.SetDefault("socket.dir", "/tmp")
	v.SetDefault("socket.prefix", "apppool")
	v.SetDefault("socket.permissions", 0600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.http_addr", ":9191")
	v.SetDefault("metrics.ws_path", "/admin/events")
	v.SetDefault("metrics.admin_secret", "")

	v.SetDefault("protocol.body_codec", "stdlib")
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	// Driver is one of memory, file, redis.
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	Key       string `mapstructure:"key"`
}

type PTTConfig struct {
	ReleaseWindow time.Duration `mapstructure:"release_window"`
}

type PrefetchConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode           string         `mapstructure:"mode"`
	Port           int            `mapstructure:"port"`
	Secret         string         `mapstructure:"secret"`
	LogLevel       string         `mapstructure:"log_level"`
	BackendURL     string         `mapstructure:"backend_url"`
	AuthPath       string         `mapstructure:"auth_path"`
	TicketPath     string         `mapstructure:"ticket_path"`
	ExpireDays     int            `mapstructure:"expire_days"`
	DeviceID       string         `mapstructure:"device_id"`
	Store          StoreConfig    `mapstructure:"store"`
	RPCTimeout     time.Duration  `mapstructure:"rpc_timeout"`
	ConnectTimeout time.Duration  `mapstructure:"connect_timeout"`
	AgentNameHint  string         `mapstructure:"agent_name_hint"`
	ICEServers     []string       `mapstructure:"ice_servers"`
	// CaptureFile is an Ogg/Opus file played as the microphone. Empty sends silence.
	CaptureFile    string         `mapstructure:"capture_file"`
	PTT            PTTConfig      `mapstructure:"ptt"`
	Prefetch       PrefetchConfig `mapstructure:"prefetch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("backend_url", "http://localhost:8090")
	v.SetDefault("auth_path", "/api/hardware_auth")
	v.SetDefault("ticket_path", "/api/livekit-token")
	v.SetDefault("expire_days", 30)
	v.SetDefault("device_id", "")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key", "voice_auth_data")
	v.SetDefault("rpc_timeout", "5s")
	v.SetDefault("connect_timeout", "20s")
	v.SetDefault("agent_name_hint", "agent")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("capture_file", "")
	v.SetDefault("ptt.release_window", "600ms")
	v.SetDefault("prefetch.limit", 3)
	v.SetDefault("prefetch.interval", "1m")
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".voicectl"
	}
	return dir + "/voicectl"
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults. VOICE_* environment variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file name. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Debug().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Str("backend", cfg.BackendURL).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.BackendURL == "" {
		return errors.New("backend_url is required")
	}
	if c.RPCTimeout <= 0 || c.ConnectTimeout <= 0 {
		return errors.New("rpc_timeout and connect_timeout must be positive")
	}
	return nil
}

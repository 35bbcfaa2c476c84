package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/duocast/internal/core"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Interval time.Duration `mapstructure:"interval"`
}

type SFUConfig struct {
	ICEServers  []core.ICEServer `mapstructure:"ice_servers"`
	PLIInterval time.Duration    `mapstructure:"pli_interval"`
	InitTimeout time.Duration    `mapstructure:"init_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type Config struct {
	Mode           string          `mapstructure:"mode"`
	Port           int             `mapstructure:"port"`
	StaticPath     string          `mapstructure:"static_path"`
	ReadLimit      int64           `mapstructure:"read_limit"`
	PingPeriod     time.Duration   `mapstructure:"ping_period"`
	PongWait       time.Duration   `mapstructure:"pong_wait"`
	WriteWait      time.Duration   `mapstructure:"write_wait"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	Secret         string          `mapstructure:"secret"`
	MaxStreamers   int             `mapstructure:"max_streamers"`
	Log            LogConfig       `mapstructure:"log"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	SFU            SFUConfig       `mapstructure:"sfu"`
	Redis          RedisConfig     `mapstructure:"redis"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("DUOCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PongWait <= cfg.PingPeriod {
		return nil, fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", cfg.PongWait, cfg.PingPeriod)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s | Streamers: %d\n", cfg.Mode, cfg.Port, cfg.StaticPath, cfg.MaxStreamers)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("secret", "duocast-dev-secret")
	v.SetDefault("max_streamers", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("rate_limit.requests", 50)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("sfu.pli_interval", "3s")
	v.SetDefault("sfu.init_timeout", "10s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.channel", "duocast:room:main-room:events")
}

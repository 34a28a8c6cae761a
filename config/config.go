package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
}

type ServerConfig struct {
	HTTPAddress    string   `mapstructure:"http_address"`
	RPCAddress     string   `mapstructure:"rpc_address"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GameConfig 回合规则。时长使用 Go duration 字符串，如 "30s"
type GameConfig struct {
	Words              []string      `mapstructure:"words"`
	WordFile           string        `mapstructure:"word_file"`
	ImpostorWord       string        `mapstructure:"impostor_word"`
	MinPlayers         int           `mapstructure:"min_players"`
	MaxPlayers         int           `mapstructure:"max_players"`
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	PlayDuration       time.Duration `mapstructure:"play_duration"`
	DiscussionDuration time.Duration `mapstructure:"discussion_duration"`
	VotingDuration     time.Duration `mapstructure:"voting_duration"`
	ResultGrace        time.Duration `mapstructure:"result_grace"`
	TiePolicy          string        `mapstructure:"tie_policy"`
	MaxRounds          int           `mapstructure:"max_rounds"` // 0 表示不限
	AutoStart          bool          `mapstructure:"auto_start"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // gorm | postgres | memory
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
	Queue   string `mapstructure:"queue"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type CleanupConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	RoomIdle        time.Duration `mapstructure:"room_idle"`
	RecordRetention time.Duration `mapstructure:"record_retention"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("game.words", []string{"APPLE", "BEACH", "CASTLE", "DRAGON", "GUITAR", "LIBRARY", "PIRATE", "VOLCANO"})
	v.SetDefault("game.word_file", "")
	v.SetDefault("game.impostor_word", "IMPOSTER!!")
	v.SetDefault("game.min_players", 2)
	v.SetDefault("game.max_players", 10)
	v.SetDefault("game.tick_interval", "100ms")
	v.SetDefault("game.play_duration", "3m")
	v.SetDefault("game.discussion_duration", "3s")
	v.SetDefault("game.voting_duration", "30s")
	v.SetDefault("game.result_grace", "6s")
	v.SetDefault("game.tie_policy", "none")
	v.SetDefault("game.max_rounds", 0)
	v.SetDefault("game.auto_start", false)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.dbname", "impostor")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.queue", "impostor_rounds")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("cleanup.schedule", "@every 1m")
	v.SetDefault("cleanup.room_idle", "10m")
	v.SetDefault("cleanup.record_retention", "720h")
}

// LoadConfig 读取 path 下的 config.yaml；文件不存在时使用默认值。
// 环境变量 IMPOSTOR_GAME_VOTING_DURATION 之类会覆盖对应键。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("IMPOSTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("invalid default config: " + err.Error())
	}
	return &cfg
}

func (c *Config) Validate() error {
	g := c.Game
	if g.MinPlayers < 2 {
		return fmt.Errorf("game.min_players must be at least 2, got %d", g.MinPlayers)
	}
	if g.MaxPlayers < g.MinPlayers {
		return fmt.Errorf("game.max_players (%d) below game.min_players (%d)", g.MaxPlayers, g.MinPlayers)
	}
	if g.TickInterval <= 0 {
		return errors.New("game.tick_interval must be positive")
	}
	if g.VotingDuration <= 0 || g.PlayDuration <= 0 {
		return errors.New("game.voting_duration and game.play_duration must be positive")
	}
	if len(g.Words) == 0 && g.WordFile == "" {
		return errors.New("one of game.words or game.word_file is required")
	}
	switch g.TiePolicy {
	case "none", "first", "lowest_id":
	default:
		return fmt.Errorf("unknown game.tie_policy %q", g.TiePolicy)
	}
	switch c.Database.Driver {
	case "gorm", "postgres", "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

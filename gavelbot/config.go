package gavelbot

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Bot     BotConfig     `toml:"bot"`
	DB      DBConfig      `toml:"db"`
	Auction AuctionConfig `toml:"auction"`
}

type BotConfig struct {
	DevGuilds  []snowflake.ID `toml:"dev_guilds"`
	Token      string         `toml:"token"`
	BindSecret string         `toml:"bind_secret"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type AuctionConfig struct {
	// SweepIntervalSec is how often the expiry sweep runs, in seconds.
	SweepIntervalSec int `toml:"sweep_interval_sec"`
	// DefaultAntiSnipeMin is the anti-snipe window applied when the create
	// command omits one, in minutes.
	DefaultAntiSnipeMin int `toml:"default_anti_snipe_min"`
}

func (c AuctionConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSec <= 0 {
		return 0
	}
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c AuctionConfig) DefaultAntiSnipe() time.Duration {
	if c.DefaultAntiSnipeMin <= 0 {
		return time.Minute
	}
	return time.Duration(c.DefaultAntiSnipeMin) * time.Minute
}

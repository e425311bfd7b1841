package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Peer   PeerConfig   `mapstructure:"peer"`
	Sim    SimConfig    `mapstructure:"sim"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string  `mapstructure:"http_address"`
	RPCAddress     string  `mapstructure:"rpc_address"`
	MetricsAddress string  `mapstructure:"metrics_address"`
	MaxPeers       int     `mapstructure:"max_peers"`
	FrameRate      float64 `mapstructure:"frame_rate"`
	FrameBurst     int     `mapstructure:"frame_burst"`
}

type PeerConfig struct {
	RelayURL string `mapstructure:"relay_url"`
	Room     string `mapstructure:"room"`
	Name     string `mapstructure:"name"`
	Color    string `mapstructure:"color"`
	Role     string `mapstructure:"role"`
	TickRate int    `mapstructure:"tick_rate"`
}

type SimConfig struct {
	ReassertInterval time.Duration `mapstructure:"reassert_interval"`
	LayoutFile       string        `mapstructure:"layout_file"`
	Seed             int64         `mapstructure:"seed"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TickInterval is the duration of one simulation tick.
func (p PeerConfig) TickInterval() time.Duration {
	if p.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(p.TickRate)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.max_peers", 8)
	v.SetDefault("server.frame_rate", 120.0)
	v.SetDefault("server.frame_burst", 240)

	v.SetDefault("peer.relay_url", "ws://localhost:8080/ws")
	v.SetDefault("peer.room", "lobby")
	v.SetDefault("peer.name", "player")
	v.SetDefault("peer.color", "#ff69b4")
	v.SetDefault("peer.role", "normal")
	v.SetDefault("peer.tick_rate", 60)

	v.SetDefault("sim.reassert_interval", time.Second)
	v.SetDefault("sim.layout_file", "")
	v.SetDefault("sim.seed", 0)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and COURSESYNC_* environment variables still apply.
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("coursesync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	return
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode" validate:"oneof=debug release test"`
	LogLevel string       `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	API      APIConfig    `mapstructure:"api"`
	Auth     AuthConfig   `mapstructure:"auth"`
	Signal   SignalConfig `mapstructure:"signal"`
	RTC      RTCConfig    `mapstructure:"rtc"`
	Audio    AudioConfig  `mapstructure:"audio"`
	Chat     ChatConfig   `mapstructure:"chat"`
	HTTP     HTTPConfig   `mapstructure:"http"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	WSBaseURL string        `mapstructure:"ws_base_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// AuthConfig carries the identity handed over by the auth layer.
type AuthConfig struct {
	Token    string `mapstructure:"token"`
	UserID   string `mapstructure:"user_id" validate:"required"`
	Username string `mapstructure:"username" validate:"required,max=36"`
	FullName string `mapstructure:"full_name"`
}

type SignalConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	WriteWait  time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	SendBuffer int           `mapstructure:"send_buffer" validate:"gt=0"`
}

type RTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers" validate:"dive,required"`
}

type AudioConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	CapturePath    string        `mapstructure:"capture_path"`
	PlaybackDir    string        `mapstructure:"playback_dir"`
}

// ChatConfig bounds outbound chat: RateLimit messages per RateWindow.
type ChatConfig struct {
	RateLimit  int           `mapstructure:"rate_limit" validate:"gt=0"`
	RateWindow time.Duration `mapstructure:"rate_window" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.ws_base_url", "ws://localhost:8000")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("audio.sample_interval", "50ms")
	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_window", "2s")
	v.SetDefault("http.addr", "127.0.0.1:8090")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of defaults.
// Every key can be overridden by VOICEMESH_<SECTION>_<KEY>.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voicemesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("api", cfg.API.BaseURL).Str("user", cfg.Auth.Username).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

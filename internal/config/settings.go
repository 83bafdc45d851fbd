package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LiveConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Voice             string        `mapstructure:"voice"`
	Language          string        `mapstructure:"language"`
	SilenceDurationMs int           `mapstructure:"silence_duration_ms"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ReconnectMin      time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
}

// AgentConfig covers the analytics agent reached through the tool sub-flow.
type AgentConfig struct {
	StreamURL      string `mapstructure:"stream_url"`
	Email          string `mapstructure:"email"`
	AvatarURL      string `mapstructure:"avatar_url"`
	PythonAnalysis bool   `mapstructure:"python_analysis"`
}

type DatasourceConfig struct {
	// Tables are fully qualified project.dataset.table names.
	Tables []string `mapstructure:"tables"`
	// Looker explore, used when Tables is empty.
	LookerInstanceURI string `mapstructure:"looker_instance_uri"`
	LookMLModel       string `mapstructure:"lookml_model"`
	Explore           string `mapstructure:"explore"`
}

type InstructionConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Page    string `mapstructure:"page"`
}

type AudioConfig struct {
	CaptureInterval  time.Duration `mapstructure:"capture_interval"`
	InputSampleRate  int           `mapstructure:"input_sample_rate"`
	CaptureFrames    int           `mapstructure:"capture_frames"`
	OutputSampleRate int           `mapstructure:"output_sample_rate"`
	OutputChannels   int           `mapstructure:"output_channels"`
	FrameSize        int           `mapstructure:"frame_size"`
	BufferSeconds    int           `mapstructure:"buffer_seconds"`
	Volume           int           `mapstructure:"volume"`
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	Pass string        `mapstructure:"pass"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// ServerConfig is read by the relay only.
type ServerConfig struct {
	Addr           string      `mapstructure:"addr"`
	AllowedOrigins []string    `mapstructure:"allowed_origins"`
	InstructionDir string      `mapstructure:"instruction_dir"`
	UpstreamURL    string      `mapstructure:"upstream_url"`
	UpstreamAuth   bool        `mapstructure:"upstream_auth"`
	Redis          RedisConfig `mapstructure:"redis"`
}

type Settings struct {
	Live         LiveConfig        `mapstructure:"live"`
	Agent        AgentConfig       `mapstructure:"agent"`
	Datasource   DatasourceConfig  `mapstructure:"datasource"`
	Instructions InstructionConfig `mapstructure:"instructions"`
	Audio        AudioConfig       `mapstructure:"audio"`
	Server       ServerConfig      `mapstructure:"server"`
	Env          string            `mapstructure:"env"`
	Debug        bool              `mapstructure:"debug"`
}

const envPrefix = "CORTADO"

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)

	v.SetDefault("live.url", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent")
	v.SetDefault("live.model", "gemini-2.0-flash-live-001")
	v.SetDefault("live.voice", "Puck")
	v.SetDefault("live.language", "en-US")
	v.SetDefault("live.silence_duration_ms", 800)
	v.SetDefault("live.dial_timeout", 15*time.Second)
	v.SetDefault("live.reconnect_min", time.Second)
	v.SetDefault("live.reconnect_max", 30*time.Second)

	v.SetDefault("agent.stream_url", "http://localhost:8080/api/data-agent/stream")
	v.SetDefault("agent.python_analysis", false)
	v.SetDefault("agent.email", "")
	v.SetDefault("agent.avatar_url", "")
	v.SetDefault("live.api_key", "")

	v.SetDefault("datasource.tables", []string{})
	v.SetDefault("datasource.looker_instance_uri", "")
	v.SetDefault("datasource.lookml_model", "")
	v.SetDefault("datasource.explore", "")

	v.SetDefault("instructions.base_url", "http://localhost:8080")
	v.SetDefault("instructions.page", "default")

	v.SetDefault("audio.capture_interval", 500*time.Millisecond)
	v.SetDefault("audio.input_sample_rate", 48000)
	v.SetDefault("audio.capture_frames", 1024)
	v.SetDefault("audio.output_sample_rate", 24000)
	v.SetDefault("audio.output_channels", 1)
	v.SetDefault("audio.frame_size", 128)
	v.SetDefault("audio.buffer_seconds", 120)
	v.SetDefault("audio.volume", 100)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.instruction_dir", "./instructions")
	v.SetDefault("server.upstream_auth", true)
	v.SetDefault("server.upstream_url", "")
	v.SetDefault("server.redis.addr", "")
	v.SetDefault("server.redis.pass", "")
	v.SetDefault("server.redis.ttl", 10*time.Minute)
}

// Load reads config_<env>.yaml from the working directory. A missing file is
// fine, defaults and CORTADO_* variables still apply.
func Load() (*Settings, error) {
	return LoadFile("")
}

// LoadFile reads the given YAML file, or config_<env>.yaml when path is empty.
func LoadFile(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config_" + genEnv(v))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &settings, nil
}

func (s *Settings) Validate() error {
	var errs []error
	if s.Live.ReconnectMin <= 0 || s.Live.ReconnectMax < s.Live.ReconnectMin {
		errs = append(errs, fmt.Errorf("live.reconnect_min must be positive and not above live.reconnect_max"))
	}
	if s.Audio.CaptureInterval <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_interval must be positive"))
	}
	if s.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive"))
	}
	if s.Audio.Volume < 0 || s.Audio.Volume > 100 {
		errs = append(errs, fmt.Errorf("audio.volume must be within 0..100, got %d", s.Audio.Volume))
	}
	return errors.Join(errs...)
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("env")
	if env == "" {
		return "dev"
	}
	return env
}

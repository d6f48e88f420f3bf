package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source        string            `yaml:"source" json:"source"`
	MinConfidence float64           `yaml:"min_confidence" json:"minConfidence"`
	Recognition   RecognitionConfig `yaml:"recognition" json:"speechRecognition"`
	Synthesis     SynthesisConfig   `yaml:"synthesis" json:"speechSynthesis"`
	Devices       DevicesConfig     `yaml:"devices" json:"deviceManager"`
	Server        ServerConfig      `yaml:"server" json:"server"`
	Monitor       MonitorConfig     `yaml:"monitor" json:"monitor"`
	Transcribe    TranscribeConfig  `yaml:"transcribe" json:"transcribe"`
	Pushover      PushoverConfig    `yaml:"pushover" json:"pushover"`
	Log           LogConfig         `yaml:"log" json:"log"`
}

type RecognitionConfig struct {
	Language     string `yaml:"language" json:"language"`
	AutoRestart  bool   `yaml:"auto_restart" json:"autoRestart"`
	MaxErrors    int    `yaml:"max_errors" json:"maxErrors"`
	RestartDelay string `yaml:"restart_delay" json:"restartDelay"`
}

type SynthesisConfig struct {
	Language string  `yaml:"language" json:"language"`
	Rate     float64 `yaml:"rate" json:"rate"`
	Pitch    float64 `yaml:"pitch" json:"pitch"`
	Volume   float64 `yaml:"volume" json:"volume"`
}

type DevicesConfig struct {
	DiscoveryInterval string `yaml:"discovery_interval" json:"discoveryInterval"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	AuthToken string `yaml:"auth_token" json:"authToken"`
}

type MonitorConfig struct {
	Interval   string `yaml:"interval" json:"interval"`
	StatsdAddr string `yaml:"statsd_addr" json:"statsdAddr"`
	Namespace  string `yaml:"namespace" json:"namespace"`
}

type TranscribeConfig struct {
	APIKey   string `yaml:"api_key" json:"apiKey"`
	URL      string `yaml:"url" json:"url"`
	Language string `yaml:"language" json:"language"`
}

type PushoverConfig struct {
	Token   string `yaml:"token" json:"token"`
	UserKey string `yaml:"user_key" json:"userKey"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads the yaml file, fills in defaults, then applies the environment
// overrides. A missing file is an error; env overrides alone are not enough
// to run without the defaults the file path implies.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnv(os.Getenv)

	return &cfg, nil
}

// Default returns a config with every default applied and environment
// overrides honored, for running without a config file.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	cfg.applyEnv(os.Getenv)
	return &cfg
}

func (c *Config) setDefaults() {
	if c.Source == "" {
		c.Source = "browser"
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.7
	}
	if c.Recognition.Language == "" {
		c.Recognition.Language = "en-US"
	}
	if c.Recognition.MaxErrors == 0 {
		c.Recognition.MaxErrors = 5
	}
	if c.Recognition.RestartDelay == "" {
		c.Recognition.RestartDelay = "1s"
		c.Recognition.AutoRestart = true
	}
	if c.Synthesis.Language == "" {
		c.Synthesis.Language = "en-US"
	}
	if c.Synthesis.Rate == 0 {
		c.Synthesis.Rate = 1.0
	}
	if c.Synthesis.Pitch == 0 {
		c.Synthesis.Pitch = 1.0
	}
	if c.Synthesis.Volume == 0 {
		c.Synthesis.Volume = 1.0
	}
	if c.Devices.DiscoveryInterval == "" {
		c.Devices.DiscoveryInterval = "30s"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Monitor.Interval == "" {
		c.Monitor.Interval = "10s"
	}
	if c.Monitor.Namespace == "" {
		c.Monitor.Namespace = "voicehome."
	}
	if c.Transcribe.URL == "" {
		c.Transcribe.URL = "https://api.openai.com/v1/audio/transcriptions"
	}
	if c.Transcribe.Language == "" {
		c.Transcribe.Language = "en"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// applyEnv is the explicit override table, evaluated once at construction.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SPEECH_LANGUAGE"); v != "" {
		c.Recognition.Language = v
		c.Synthesis.Language = v
	}
	if v := getenv("MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinConfidence = f
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("SPEECH_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Synthesis.Rate = f
		}
	}
	if v := getenv("SPEECH_PITCH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Synthesis.Pitch = f
		}
	}
	if v := getenv("SPEECH_VOLUME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Synthesis.Volume = f
		}
	}
}

// Duration parses a duration field, falling back when the value is invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

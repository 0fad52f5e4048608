// Package config provides configuration management for the robot
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Assets    AssetsConfig    `mapstructure:"assets" yaml:"assets"`
	Animation AnimationConfig `mapstructure:"animation" yaml:"animation"`
	Progress  ProgressConfig  `mapstructure:"progress" yaml:"progress"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Speech    SpeechConfig    `mapstructure:"speech" yaml:"speech"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig configures the websocket bridge listener
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	WSPath         string   `mapstructure:"ws_path" yaml:"ws_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"` // empty accepts any origin
}

// AssetsConfig lists the assets loaded at startup
type AssetsConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"` // http(s) URL or local directory
	Model        string        `mapstructure:"model" yaml:"model"`
	Animations   []string      `mapstructure:"animations" yaml:"animations"`
	AnimationExt string        `mapstructure:"animation_ext" yaml:"animation_ext"`
	Ambient      string        `mapstructure:"ambient" yaml:"ambient"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Cache        CacheConfig   `mapstructure:"cache" yaml:"cache"`
}

// CacheConfig configures the offline asset cache
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"` // empty keeps the cache in memory
}

// AnimationConfig names the special clips and tunes the frame loop
type AnimationConfig struct {
	Idle     string        `mapstructure:"idle" yaml:"idle"`
	Thinking string        `mapstructure:"thinking" yaml:"thinking"`
	TalkPool []string      `mapstructure:"talk_pool" yaml:"talk_pool"`
	Blend    time.Duration `mapstructure:"blend" yaml:"blend"`
	FPSLimit int           `mapstructure:"fps_limit" yaml:"fps_limit"`
}

// ProgressConfig tunes the ready transition
type ProgressConfig struct {
	ReadyDelay time.Duration `mapstructure:"ready_delay" yaml:"ready_delay"`
}

// AudioConfig configures playback
type AudioConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	SampleRate  int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels    int     `mapstructure:"channels" yaml:"channels"`
	SpeechGain  float64 `mapstructure:"speech_gain" yaml:"speech_gain"`
	AmbientGain float64 `mapstructure:"ambient_gain" yaml:"ambient_gain"`
}

// VoiceTuning overrides pitch and rate for one named voice
type VoiceTuning struct {
	Pitch float64 `mapstructure:"pitch" yaml:"pitch"`
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
}

// SpeechConfig configures remote synthesis and the local fallback
type SpeechConfig struct {
	Endpoint        string                 `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration          `mapstructure:"timeout" yaml:"timeout"`
	LocalOnly       bool                   `mapstructure:"local_only" yaml:"local_only"` // skip remote synthesis entirely
	Engine          string                 `mapstructure:"engine" yaml:"engine"`         // browser or say
	Language        string                 `mapstructure:"language" yaml:"language"`
	FallbackLang    string                 `mapstructure:"fallback_lang" yaml:"fallback_lang"`
	VoiceCandidates []string               `mapstructure:"voice_candidates" yaml:"voice_candidates"`
	VoiceTuning     map[string]VoiceTuning `mapstructure:"voice_tuning" yaml:"voice_tuning"`
	RetryInterval   time.Duration          `mapstructure:"retry_interval" yaml:"retry_interval"`
	Greeting        string                 `mapstructure:"greeting" yaml:"greeting"`
}

// ChatConfig configures the remote chat endpoint
type ChatConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

const apiBase = "https://us-central1-stop-dbb76.cloudfunctions.net/api"

// DefaultAnimations is the clip library shipped with the robot model.
var DefaultAnimations = []string{
	"acknowledging", "agreeing", "clapping", "defeat", "disappointed", "dismissing",
	"fistPump", "formalBow", "happyIdle", "happyWalk", "headGesture", "hipHopDance",
	"idle", "pouting", "surprised", "talking", "thoughtful", "walking", "waving",
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:   "127.0.0.1:8080",
			WSPath: "/ws",
		},
		Assets: AssetsConfig{
			BaseURL:      "./models",
			Model:        "robot.glb",
			Animations:   append([]string(nil), DefaultAnimations...),
			AnimationExt: ".glb",
			Ambient:      "../audio/robot.mp3",
			Timeout:      2 * time.Minute,
			Cache:        CacheConfig{Enabled: true},
		},
		Animation: AnimationConfig{
			Idle:     "idle",
			Thinking: "thoughtful",
			TalkPool: []string{"agreeing", "talking", "acknowledging", "dismissing", "headGesture", "pouting"},
			Blend:    250 * time.Millisecond,
			FPSLimit: 60,
		},
		Progress: ProgressConfig{
			ReadyDelay: time.Second,
		},
		Audio: AudioConfig{
			Enabled:     true,
			SampleRate:  24000,
			Channels:    2,
			SpeechGain:  1.0,
			AmbientGain: 0.25,
		},
		Speech: SpeechConfig{
			Endpoint:        apiBase + "/naturalvoice",
			Timeout:         30 * time.Second,
			Engine:          "browser",
			Language:        "pt",
			FallbackLang:    "pt-BR",
			VoiceCandidates: []string{"antonio", "daniel", "reed", "brasil"},
			VoiceTuning: map[string]VoiceTuning{
				"daniel": {Pitch: 1.5, Rate: 1.5},
			},
			RetryInterval: 100 * time.Millisecond,
			Greeting:      "Olá humano! Para falar comigo, digite no campo de texto abaixo.",
		},
		Chat: ChatConfig{
			Endpoint: apiBase + "/chatgpt",
			Timeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v   *viper.Viper
	dir string
}

// NewLoader creates a loader. An empty file means ~/.robot/config.yaml plus
// the working directory.
func NewLoader(file string) (*Loader, error) {
	v := viper.New()
	l := &Loader{v: v}

	if file != "" {
		v.SetConfigFile(file)
		l.dir = filepath.Dir(file)
	} else {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		l.dir = dir
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROBOT")
	v.AutomaticEnv()
	return l, nil
}

// Load reads configuration from file and environment. A missing file is
// created with defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		if err := l.Save(cfg); err != nil {
			return cfg, err
		}
		if err := l.v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to the loader's file
func (l *Loader) Save(cfg *Config) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	path := l.v.ConfigFileUsed()
	if path == "" {
		path = filepath.Join(l.dir, "config.yaml")
		l.v.SetConfigFile(path)
	}
	return os.WriteFile(path, data, 0644)
}

// Watch re-reads the file on every write and hands the fresh config to fn.
// Reload failures are passed as err with the previous values untouched.
func (l *Loader) Watch(fn func(cfg *Config, ev fsnotify.Event, err error)) {
	l.v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		err := l.v.Unmarshal(cfg)
		fn(cfg, ev, err)
	})
	l.v.WatchConfig()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".robot"), nil
}

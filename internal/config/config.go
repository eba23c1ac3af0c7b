// Package config loads go-aira command configuration. Values come from
// defaults, then an optional YAML file, then the environment (which a
// .env file may populate). Commands apply flags last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-aira/pkg/audioio"
)

// Defaults.
const (
	DefaultVoiceURL = "ws://localhost:8000/ws/voice"
	DefaultAPIURL   = "http://localhost:8000"
	DefaultListen   = ":8000"
)

// Speech providers, in the order they may appear in Speech.Providers.
const (
	SpeechBackend    = "backend"
	SpeechElevenLabs = "elevenlabs"
	SpeechGoogle     = "google"
	SpeechOpenAI     = "openai"
)

// Config is the full command configuration.
type Config struct {
	VoiceURL string `yaml:"voice_url"`
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Call   Call           `yaml:"call"`
	Input  audioio.Config `yaml:"input"`
	Output audioio.Config `yaml:"output"`
	Speech Speech         `yaml:"speech"`

	OpenAI     OpenAI     `yaml:"openai"`
	Google     Google     `yaml:"google"`
	ElevenLabs ElevenLabs `yaml:"elevenlabs"`
}

// Call holds session and transport tuning.
type Call struct {
	AutoResume           bool          `yaml:"auto_resume"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	EndGrace             time.Duration `yaml:"end_grace"`
	// ResponseAudioWait is how long a reply may wait for backend audio
	// before it is synthesized on the client.
	ResponseAudioWait time.Duration `yaml:"response_audio_wait"`
}

// Speech selects the synthesizers used for spoken replies.
type Speech struct {
	// Providers is the fallback order for remote synthesis.
	Providers []string `yaml:"providers"`

	// LocalCommand is an on-device synthesizer used as the last resort.
	LocalCommand []string `yaml:"local_command"`

	// Voice is the voice ID passed to the backend route.
	Voice string `yaml:"voice"`
}

// OpenAI holds OpenAI credentials and models.
type OpenAI struct {
	APIKey             string `yaml:"api_key"`
	ChatModel          string `yaml:"chat_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	Voice              string `yaml:"voice"`
}

// Google holds Cloud Text-to-Speech settings.
type Google struct {
	APIKey   string `yaml:"api_key"`
	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`
}

// ElevenLabs holds ElevenLabs settings.
type ElevenLabs struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		VoiceURL: DefaultVoiceURL,
		APIURL:   DefaultAPIURL,
		Listen:   DefaultListen,
		LogLevel: "info",
		Call: Call{
			AutoResume:           true,
			MaxReconnectAttempts: 3,
			PingInterval:         30 * time.Second,
			EndGrace:             2 * time.Second,
			ResponseAudioWait:    3 * time.Second,
		},
		Input:  audioio.DefaultConfig(),
		Output: audioio.DefaultConfig(),
		Speech: Speech{
			Providers: []string{SpeechBackend, SpeechGoogle, SpeechOpenAI},
		},
		Google: Google{Language: "en-US"},
	}
}

// Load builds the configuration. file is an optional YAML path. envFiles
// default to ".env"; missing ones are skipped and never override
// variables already set.
func Load(file string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", file, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.VoiceURL = Env("AIRA_VOICE_URL", c.VoiceURL)
	c.APIURL = Env("AIRA_API_URL", c.APIURL)
	c.APIToken = Env("AIRA_API_TOKEN", c.APIToken)
	c.Listen = Env("AIRA_LISTEN", c.Listen)
	c.LogLevel = Env("LOG_LEVEL", c.LogLevel)

	c.Call.AutoResume = EnvBool("AIRA_AUTO_RESUME", c.Call.AutoResume)
	c.Call.MaxReconnectAttempts = EnvInt("AIRA_MAX_RECONNECT_ATTEMPTS", c.Call.MaxReconnectAttempts)
	c.Call.PingInterval = EnvDuration("AIRA_PING_INTERVAL", c.Call.PingInterval)
	c.Call.ResponseAudioWait = EnvDuration("AIRA_RESPONSE_AUDIO_WAIT", c.Call.ResponseAudioWait)

	c.Speech.Providers = EnvList("AIRA_SPEECH_PROVIDERS", c.Speech.Providers)
	if cmd := os.Getenv("AIRA_LOCAL_TTS"); cmd != "" {
		c.Speech.LocalCommand = strings.Fields(cmd)
	}
	c.Speech.Voice = Env("AIRA_VOICE_ID", c.Speech.Voice)

	c.OpenAI.APIKey = Env("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.ChatModel = Env("OPENAI_MODEL", c.OpenAI.ChatModel)
	c.OpenAI.TranscriptionModel = Env("OPENAI_STT_MODEL", c.OpenAI.TranscriptionModel)
	c.OpenAI.Voice = Env("OPENAI_TTS_VOICE", c.OpenAI.Voice)

	c.Google.APIKey = Env("GOOGLE_API_KEY", c.Google.APIKey)
	c.Google.Voice = Env("GOOGLE_TTS_VOICE", c.Google.Voice)

	c.ElevenLabs.APIKey = Env("ELEVENLABS_API_KEY", c.ElevenLabs.APIKey)
	c.ElevenLabs.VoiceID = Env("ELEVENLABS_VOICE_ID", c.ElevenLabs.VoiceID)
}

// Validate checks URLs, call tuning, devices and provider names.
func (c *Config) Validate() error {
	if err := checkURL("voice_url", c.VoiceURL, "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.Call.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: max_reconnect_attempts must not be negative, got %d", c.Call.MaxReconnectAttempts)
	}
	if c.Call.PingInterval <= 0 {
		return fmt.Errorf("config: ping_interval must be positive, got %v", c.Call.PingInterval)
	}
	if c.Call.EndGrace <= 0 {
		return fmt.Errorf("config: end_grace must be positive, got %v", c.Call.EndGrace)
	}
	if c.Call.ResponseAudioWait <= 0 {
		return fmt.Errorf("config: response_audio_wait must be positive, got %v", c.Call.ResponseAudioWait)
	}
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("config: input: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("config: output: %w", err)
	}
	for _, p := range c.Speech.Providers {
		switch p {
		case SpeechBackend, SpeechElevenLabs, SpeechGoogle, SpeechOpenAI:
		default:
			return fmt.Errorf("config: unknown speech provider %q", p)
		}
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("config: %s %q must be a %s URL", name, raw, strings.Join(schemes, "/"))
}

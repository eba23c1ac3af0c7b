package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
)

// clearEnv unsets every variable Load reads so the host environment
// cannot leak into a test. t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AIRA_VOICE_URL", "AIRA_API_URL", "AIRA_API_TOKEN", "AIRA_LISTEN", "LOG_LEVEL",
		"AIRA_AUTO_RESUME", "AIRA_MAX_RECONNECT_ATTEMPTS", "AIRA_PING_INTERVAL", "AIRA_RESPONSE_AUDIO_WAIT",
		"AIRA_SPEECH_PROVIDERS", "AIRA_LOCAL_TTS", "AIRA_VOICE_ID",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_STT_MODEL", "OPENAI_TTS_VOICE",
		"GOOGLE_API_KEY", "GOOGLE_TTS_VOICE", "ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VoiceURL != DefaultVoiceURL || cfg.APIURL != DefaultAPIURL {
		t.Errorf("urls = %s, %s", cfg.VoiceURL, cfg.APIURL)
	}
	if !cfg.Call.AutoResume || cfg.Call.MaxReconnectAttempts != 3 || cfg.Call.PingInterval != 30*time.Second {
		t.Errorf("call = %+v", cfg.Call)
	}
	if cfg.Input.SampleRate != 16000 || cfg.Input.Backend != audioio.BackendMock {
		t.Errorf("input = %+v", cfg.Input)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	file := writeFile(t, "aira.yaml", `
voice_url: wss://aira.example.com/ws/voice
log_level: debug
call:
  auto_resume: false
  max_reconnect_attempts: 5
  response_audio_wait: 12s
input:
  backend: file
  device: question.wav
  sample_rate: 16000
  channels: 1
  buffer_duration: 10ms
speech:
  providers: [elevenlabs, openai]
  local_command: [say, -v, Samantha]
`)

	cfg, err := Load(file, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VoiceURL != "wss://aira.example.com/ws/voice" || cfg.LogLevel != "debug" {
		t.Errorf("top level = %s, %s", cfg.VoiceURL, cfg.LogLevel)
	}
	if cfg.Call.AutoResume || cfg.Call.MaxReconnectAttempts != 5 {
		t.Errorf("call = %+v", cfg.Call)
	}
	if cfg.Call.PingInterval != 30*time.Second {
		t.Errorf("unset ping_interval lost its default: %v", cfg.Call.PingInterval)
	}
	if cfg.Call.ResponseAudioWait != 12*time.Second {
		t.Errorf("response_audio_wait = %v, want 12s", cfg.Call.ResponseAudioWait)
	}
	if cfg.Input.Backend != audioio.BackendFile || cfg.Input.Device != "question.wav" || cfg.Input.BufferDuration != 10*time.Millisecond {
		t.Errorf("input = %+v", cfg.Input)
	}
	if !reflect.DeepEqual(cfg.Speech.Providers, []string{SpeechElevenLabs, SpeechOpenAI}) {
		t.Errorf("providers = %v", cfg.Speech.Providers)
	}
	if !reflect.DeepEqual(cfg.Speech.LocalCommand, []string{"say", "-v", "Samantha"}) {
		t.Errorf("local command = %v", cfg.Speech.LocalCommand)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	file := writeFile(t, "aira.yaml", "api_url: http://file.example.com\ncall:\n  max_reconnect_attempts: 5\n")
	t.Setenv("AIRA_API_URL", "https://env.example.com")
	t.Setenv("AIRA_MAX_RECONNECT_ATTEMPTS", "1")
	t.Setenv("AIRA_RESPONSE_AUDIO_WAIT", "5s")
	t.Setenv("AIRA_LOCAL_TTS", "espeak -v en")

	cfg, err := Load(file, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIURL != "https://env.example.com" {
		t.Errorf("api_url = %s", cfg.APIURL)
	}
	if cfg.Call.MaxReconnectAttempts != 1 {
		t.Errorf("max_reconnect_attempts = %d", cfg.Call.MaxReconnectAttempts)
	}
	if cfg.Call.ResponseAudioWait != 5*time.Second {
		t.Errorf("response_audio_wait = %v", cfg.Call.ResponseAudioWait)
	}
	if !reflect.DeepEqual(cfg.Speech.LocalCommand, []string{"espeak", "-v", "en"}) {
		t.Errorf("local command = %v", cfg.Speech.LocalCommand)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dotenv := writeFile(t, ".env", "OPENAI_API_KEY=sk-from-file\nAIRA_API_TOKEN=from-file\n")
	t.Setenv("AIRA_API_TOKEN", "from-env")

	cfg, err := Load("", dotenv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.APIKey != "sk-from-file" {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
	// .env never overrides the process environment.
	if cfg.APIToken != "from-env" {
		t.Errorf("token = %q, want the process value", cfg.APIToken)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"voice scheme", "voice_url: http://localhost:8000/ws/voice", "voice_url"},
		{"api scheme", "api_url: ws://localhost", "api_url"},
		{"attempts", "call:\n  max_reconnect_attempts: -1", "max_reconnect_attempts"},
		{"file device", "input:\n  backend: file", "input"},
		{"provider", "speech:\n  providers: [polly]", "polly"},
		{"syntax", "call: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			file := writeFile(t, "aira.yaml", tt.yaml)
			_, err := Load(file, filepath.Join(t.TempDir(), "missing.env"))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_INT", "x")
	t.Setenv("TEST_DURATION", "250ms")
	t.Setenv("TEST_LIST", " a, ,b ")

	if !EnvBool("TEST_BOOL", false) {
		t.Error("EnvBool")
	}
	if EnvInt("TEST_INT", 7) != 7 {
		t.Error("EnvInt should fall back on bad input")
	}
	if EnvDuration("TEST_DURATION", 0) != 250*time.Millisecond {
		t.Error("EnvDuration")
	}
	if got := EnvList("TEST_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("EnvList = %v", got)
	}
	if Env("TEST_UNSET_KEY", "def") != "def" {
		t.Error("Env default")
	}
}

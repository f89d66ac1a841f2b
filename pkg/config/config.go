package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/soundpath/voicelink/pkg/logger"
)

// Config is the daemon configuration, loaded from the environment with
// an optional .env overlay.
type Config struct {
	Mode    string
	Server  ServerConfig
	Audio   AudioConfig
	Session SessionConfig
	Log     logger.LogConfig
}

// ServerConfig locates the backend voice channel.
type ServerConfig struct {
	URL         string
	DialTimeout time.Duration
}

// AudioConfig sets capture stream parameters.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	FrameDuration    time.Duration
	Encoding         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// SessionConfig tunes controller behavior.
type SessionConfig struct {
	Continuous     bool
	AcquireTimeout time.Duration
	FrameRetries   int
}

// Load reads configuration from the environment. A .env file for the
// current APP_ENV is applied first when present; a missing file is not
// an error.
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	filename := ".env"
	if env != "" {
		filename = ".env." + env
	}
	if err := godotenv.Load(filename); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", filename, err)
	}

	cfg := &Config{
		Mode: getStringOrDefault("MODE", "development"),
		Server: ServerConfig{
			URL:         getStringOrDefault("SERVER_URL", "ws://localhost:7072/voice"),
			DialTimeout: getDurationOrDefault("SERVER_DIAL_TIMEOUT", 10*time.Second),
		},
		Audio: AudioConfig{
			SampleRate:       getIntOrDefault("AUDIO_SAMPLE_RATE", 16000),
			Channels:         getIntOrDefault("AUDIO_CHANNELS", 1),
			FrameDuration:    getDurationOrDefault("AUDIO_FRAME_DURATION", 60*time.Millisecond),
			Encoding:         getStringOrDefault("AUDIO_ENCODING", "pcm"),
			EchoCancellation: getBoolOrDefault("AUDIO_ECHO_CANCELLATION", true),
			NoiseSuppression: getBoolOrDefault("AUDIO_NOISE_SUPPRESSION", true),
			AutoGainControl:  getBoolOrDefault("AUDIO_AUTO_GAIN", true),
		},
		Session: SessionConfig{
			Continuous:     getBoolOrDefault("SESSION_CONTINUOUS", false),
			AcquireTimeout: getDurationOrDefault("SESSION_ACQUIRE_TIMEOUT", 10*time.Second),
			FrameRetries:   getIntOrDefault("SESSION_FRAME_RETRIES", 1),
		},
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/voicelink.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the audio path cannot run with.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("AUDIO_CHANNELS must be 1 or 2")
	}
	if c.Audio.FrameDuration < 10*time.Millisecond || c.Audio.FrameDuration > time.Second {
		return fmt.Errorf("AUDIO_FRAME_DURATION must be between 10ms and 1s")
	}
	return nil
}

func getStringOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return cast.ToInt(value)
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return cast.ToBool(value)
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

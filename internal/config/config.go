// Package config provides configuration management for the VizMix server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Render engine configuration
	RenderRateHz int // Hz (default 60, one tick per displayed frame)
	OutputWidth  int
	OutputHeight int

	// Video decoding
	FFmpegPath    string
	FFprobePath   string
	MaxVideoWidth int // Clips wider than this are rejected at ingestion

	// Clips seeded into empty banks on a fresh start: A gets the first 8
	// files by name, B the next 8. Empty disables seeding.
	DefaultBanksDir string

	// Output relay
	RelayJPEGQuality int
	RelayURL         string        // Used by the output process to reach the control server
	RelayRetryDelay  time.Duration // Delay between output-ready handshakes

	// Settings persistence
	SettingsAutosave bool

	// MIDI input port name (substring match); empty disables MIDI
	MIDIInput string

	// Non-interactive mode (Docker/CI): no display, so no GPU window
	NonInteractive bool

	// CORS configuration
	CORSOrigin string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4100"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./vizmix.db"),

		// Render engine
		RenderRateHz: getEnvInt("RENDER_RATE", 60),
		OutputWidth:  getEnvInt("OUTPUT_WIDTH", 1280),
		OutputHeight: getEnvInt("OUTPUT_HEIGHT", 720),

		// Video
		FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:   getEnv("FFPROBE_PATH", "ffprobe"),
		MaxVideoWidth: getEnvInt("MAX_VIDEO_WIDTH", 1920),

		DefaultBanksDir: getEnv("DEFAULT_BANKS_DIR", "./samples"),

		// Relay
		RelayJPEGQuality: getEnvInt("RELAY_JPEG_QUALITY", 80),
		RelayURL:         getEnv("RELAY_URL", "ws://localhost:4100/output"),
		RelayRetryDelay:  time.Duration(getEnvInt("RELAY_RETRY_DELAY", 500)) * time.Millisecond,

		// Settings
		SettingsAutosave: getEnvBool("SETTINGS_AUTOSAVE", true),

		// MIDI
		MIDIInput: getEnv("MIDI_INPUT", ""),

		// Non-interactive
		NonInteractive: getEnvBool("NON_INTERACTIVE", false),

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RenderInterval returns the duration of one render tick.
func (c *Config) RenderInterval() time.Duration {
	if c.RenderRateHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.RenderRateHz)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

package config

import (
	"strconv"
	"time"

	"github.com/jota2rz/dualdeck/internal/mixer"
)

// Setting keys.
const (
	KeyVideosDir         = "videos_dir"
	KeyCrossfadeDuration = "crossfade_duration" // seconds
	KeyAutoMix           = "auto_mix"           // "1" / "0"
	KeyMasterVolume      = "master_volume"      // 0-100
	KeyPlaylistMode      = "playlist_mode"      // "repeat" / "dj"
	KeyTelemetryMaxAge   = "telemetry_max_age_ms"
)

// Int returns key parsed as an integer, or fallback.
func (c *Config) Int(key string, fallback int) int {
	v, err := strconv.Atoi(c.Get(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// Float returns key parsed as a float, or fallback.
func (c *Config) Float(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(c.Get(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

// Bool returns key as a boolean ("1"/"true" or "0"/"false"), or fallback.
func (c *Config) Bool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(c.Get(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// MixerSettings builds the mixer settings from the stored values.
func (c *Config) MixerSettings() mixer.Settings {
	def := mixer.DefaultSettings()
	return mixer.Settings{
		CrossfadeDuration: time.Duration(c.Float(KeyCrossfadeDuration, def.CrossfadeDuration.Seconds()) * float64(time.Second)),
		AutoMix:           c.Bool(KeyAutoMix, def.AutoMix),
		MasterVolume:      c.Int(KeyMasterVolume, def.MasterVolume),
		TelemetryMaxAge:   time.Duration(c.Int(KeyTelemetryMaxAge, int(def.TelemetryMaxAge.Milliseconds()))) * time.Millisecond,
	}
}

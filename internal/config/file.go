package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// File is the optional TOML configuration file. Server options feed the
// process flags' defaults; Settings are written into the settings store at
// startup.
type File struct {
	Server   ServerFile        `toml:"server"`
	Settings map[string]string `toml:"settings"`
}

// ServerFile holds process options.
type ServerFile struct {
	Addr        string `toml:"addr"`
	DB          string `toml:"db"`
	OpenBrowser bool   `toml:"open_browser"`
}

// DefaultFile returns the file written when none exists.
func DefaultFile() *File {
	return &File{
		Server: ServerFile{Addr: ":8090", DB: "dualdeck.db", OpenBrowser: true},
		Settings: map[string]string{
			KeyVideosDir: "./videos",
		},
	}
}

// LoadFile reads the TOML file at path. A missing file is created with
// defaults.
func LoadFile(path string) (*File, error) {
	f := DefaultFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := f.Save(path); err != nil {
			return nil, err
		}
		slog.Info("created default config file", "path", path)
		return f, nil
	}
	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// Save writes f to path.
func (f *File) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString("# dualdeck configuration\n\n"); err != nil {
		return fmt.Errorf("config: write header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(f); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// Apply writes every entry of settings into the store.
func (c *Config) Apply(settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.Set(k, settings[k]); err != nil {
			return fmt.Errorf("config: apply %s: %w", k, err)
		}
	}
	return nil
}

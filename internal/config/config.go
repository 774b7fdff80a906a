// Package config loads the engine's persistent configuration from
// $HOME/.cliptransfer/config.properties.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashbyte/cliptransfer/internal/validation"
)

// Config holds the tunables in spec.md §6. Invalid or out-of-range
// values fall back to the matching default, with a warning surfaced
// through Warnings rather than failing the load.
type Config struct {
	ChunkSize       int
	SendInterval    int // ms
	ReceiveInterval int // ms
	LogLevel        string
	DownloadPath    string

	Warnings []string
}

const (
	DefaultChunkSize       = 524288
	DefaultSendInterval    = 2000
	DefaultReceiveInterval = 1000
	DefaultLogLevel        = "INFO"
)

const (
	minChunkSize       = 1024
	maxChunkSize       = 10485760
	minSendInterval    = 100
	maxSendInterval    = 60000
	minReceiveInterval = 100
	maxReceiveInterval = 10000
)

// HomeDir returns $HOME/.cliptransfer, creating it if necessary.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".cliptransfer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Default returns the configuration defaults from spec.md §6.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ChunkSize:       DefaultChunkSize,
		SendInterval:    DefaultSendInterval,
		ReceiveInterval: DefaultReceiveInterval,
		LogLevel:        DefaultLogLevel,
		DownloadPath:    filepath.Join(home, "Downloads"),
	}
}

// Load reads path (a key=value properties file, '#'-prefixed comments
// allowed) and overlays it on Default(). A missing file is not an
// error — Default() is returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	cfg.applyChunkSize(values["chunk.size"])
	cfg.applySendInterval(values["send.interval"])
	cfg.applyReceiveInterval(values["receive.interval"])
	if v, ok := values["log.level"]; ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := values["download.path"]; ok && v != "" {
		cfg.DownloadPath = v
	}

	return cfg, nil
}

func (c *Config) applyChunkSize(raw string) {
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || validation.ValidateRangeInt(v, minChunkSize, maxChunkSize) != nil {
		c.Warnings = append(c.Warnings, "chunk.size out of range, using default "+strconv.Itoa(DefaultChunkSize))
		return
	}
	c.ChunkSize = v
}

func (c *Config) applySendInterval(raw string) {
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || validation.ValidateRangeInt(v, minSendInterval, maxSendInterval) != nil {
		c.Warnings = append(c.Warnings, "send.interval out of range, using default "+strconv.Itoa(DefaultSendInterval))
		return
	}
	c.SendInterval = v
}

func (c *Config) applyReceiveInterval(raw string) {
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || validation.ValidateRangeInt(v, minReceiveInterval, maxReceiveInterval) != nil {
		c.Warnings = append(c.Warnings, "receive.interval out of range, using default "+strconv.Itoa(DefaultReceiveInterval))
		return
	}
	c.ReceiveInterval = v
}

// Package config provides configuration loading for the node-dmx
// tools: environment variables with defaults, plus an optional TOML
// file for controller setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Interop holds the RDMnet interoperability smoke-test settings, loaded
// from the RDMNET_INTEROP_* environment block.
type Interop struct {
	Host       string
	Port       int
	Scope      string
	EndpointID int
	Timeout    time.Duration
	TLS        bool
	TLSStrict  bool
	CheckLists bool
}

// LoadInterop reads the RDMNET_INTEROP_* environment variables with
// their documented defaults.
func LoadInterop() *Interop {
	return &Interop{
		Host:       getEnv("RDMNET_INTEROP_HOST", ""),
		Port:       getEnvInt("RDMNET_INTEROP_PORT", 0),
		Scope:      getEnv("RDMNET_INTEROP_SCOPE", "default"),
		EndpointID: getEnvInt("RDMNET_INTEROP_ENDPOINT_ID", 1),
		Timeout:    time.Duration(getEnvInt("RDMNET_INTEROP_TIMEOUT_MS", 5000)) * time.Millisecond,
		TLS:        getEnv("RDMNET_INTEROP_TLS", "") == "1",
		TLSStrict:  getEnv("RDMNET_INTEROP_TLS_STRICT", "1") != "0",
		CheckLists: getEnv("RDMNET_INTEROP_CHECK_LISTS", "") == "1",
	}
}

// Validate checks that the mandatory interop settings are present.
func (i *Interop) Validate() error {
	if i.Host == "" {
		return fmt.Errorf("config: RDMNET_INTEROP_HOST is required")
	}
	return nil
}

// File is a TOML controller configuration.
type File struct {
	LogLevel string         `toml:"log-level"`
	DMX      DMXConf        `toml:"dmx"`
	ArtNet   ArtNetFileConf `toml:"artnet"`
	SACN     SACNFileConf   `toml:"sacn"`
}

// DMXConf selects the protocol and the universes a controller drives.
type DMXConf struct {
	Protocol    string `toml:"protocol"`
	Destination string `toml:"destination"`
	Universes   []int  `toml:"universes"`
	ArtSync     bool   `toml:"art-sync"`
}

// ArtNetFileConf carries Art-Net sender overrides.
type ArtNetFileConf struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	BindAddr string `toml:"bind"`
}

// SACNFileConf carries sACN sender overrides.
type SACNFileConf struct {
	Destination string  `toml:"destination"`
	Port        int     `toml:"port"`
	Interface   string  `toml:"interface"`
	RefreshRate float64 `toml:"refresh-rate"`
	SourceName  string  `toml:"source-name"`
	Priority    int     `toml:"priority"`
}

// LoadFile decodes a TOML controller configuration.
func LoadFile(path string) (*File, error) {
	cfg := &File{
		LogLevel: "info",
		DMX:      DMXConf{Protocol: "artnet"},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
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

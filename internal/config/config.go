package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/p2tas-community/p2tas-dev-tools/internal/schema"
)

// FileName is the project configuration file, looked up from the script
// directory upwards.
const FileName = ".p2tas.toml"

const (
	EnvRelayAddr = "P2TAS_RELAY_ADDR"
	EnvLogFile   = "P2TAS_LOG_FILE"
	EnvLogLevel  = "P2TAS_LOG_LEVEL"

	DefaultRelayAddr = "localhost:64253"
	DefaultPanelPort = 8090
)

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type RelayConfig struct {
	Address string `toml:"address"`
}

type PanelConfig struct {
	Port int `toml:"port"`
}

// Config is the project configuration. Tools holds per-tool catalogue
// overrides keyed by tool name, see schema.Catalog.Apply.
type Config struct {
	Logging LoggingConfig             `toml:"logging"`
	Relay   RelayConfig               `toml:"relay"`
	Panel   PanelConfig               `toml:"panel"`
	Tools   map[string]map[string]any `toml:"tools"`

	// Root is the directory holding the configuration file, or the directory
	// the lookup started from when none was found.
	Root string `toml:"-"`
}

func Defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Relay:   RelayConfig{Address: DefaultRelayAddr},
		Panel:   PanelConfig{Port: DefaultPanelPort},
	}
}

// Load reads a configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) && len(serr.Errors) > 0 {
			first := &serr.Errors[0]
			row, col := first.Position()
			return cfg, fmt.Errorf("%s:%d:%d: unknown field %q", path, row, col, strings.Join(first.Key(), "."))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return cfg, fmt.Errorf("%s:%d:%d: %s", path, row, col, derr.Error())
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Root = filepath.Dir(path)
	return cfg, nil
}

// Find walks up from dir looking for FileName.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// LoadFrom finds and loads the configuration governing dir, then applies
// environment overrides. A missing file yields the defaults.
func LoadFrom(dir string) (Config, error) {
	cfg := Defaults()
	cfg.Root = dir
	if path, ok := Find(dir); ok {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRelayAddr); v != "" {
		c.Relay.Address = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Catalog builds the tool catalogue for the project: the built-in tools, a
// project CUE catalogue if present, then the [tools] overrides in name order.
func (c Config) Catalog() (*schema.Catalog, error) {
	cat, err := schema.LoadFullCatalog(c.Root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := cat.Apply(name, c.Tools[name]); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCSESSION_"

// Load reads the config file at path from the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS reads the config file at path from fsys over the defaults.
// A missing file is not an error; the defaults are returned unchanged.
// An empty path also yields the defaults.
func LoadFS(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			pe := &ParseError{Path: path, Message: err.Error(), Err: err}
			var de *toml.DecodeError
			if errors.As(err, &de) {
				pe.Line, pe.Column = de.Position()
			}
			return pe
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// ApplyEnv overrides settings from DOCSESSION_* variables found through
// lookup, which is normally os.LookupEnv. Empty values count as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		return lookup(EnvPrefix + name)
	}

	if v, ok := get("ROOT"); ok {
		c.Workspace.Root = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("LOG_FILE"); ok {
		c.Log.File = v
	}
	if v, ok := get("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := get("STATE_FILE"); ok {
		c.State.File = v
	}
	if v, ok := get("PANES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sPANES: %w", EnvPrefix, err)
		}
		c.Session.Panes = n
	}
	if v, ok := get("SAVE_DELAY"); ok {
		if err := c.Session.SaveDelay.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sSAVE_DELAY: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("WATCH"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sWATCH: %w", EnvPrefix, err)
		}
		c.Watch.Enabled = b
	}
	return nil
}

// StatePath resolves the state file against the workspace root.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.State.File) {
		return c.State.File
	}
	return filepath.Join(c.Workspace.Root, c.State.File)
}

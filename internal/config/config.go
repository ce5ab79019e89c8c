// Package config loads the client configuration from defaults, an optional
// JSON config file, and the environment, in that precedence order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultAPIURL       = "http://localhost:8000/api"
	DefaultHTTPTimeout  = 10 * time.Minute // upload requests carry whole files
	DefaultPollInterval = 2 * time.Second
	DefaultPollDeadline = 10 * time.Minute

	// FileName is the JSON config file searched in $HOME and the working
	// directory.
	FileName = "docuflow-config.json"
)

// ValueSource records where a configuration value came from.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "env"
)

// Config holds the effective client configuration.
type Config struct {
	APIURL       string
	DemoMode     bool
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	PollDeadline time.Duration
	LogLevel     string
}

// Metadata describes the provenance of each loaded field.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns where the named field's value came from.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when the configuration was resolved.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

type loadOptions struct {
	envLookup func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	homeDir   func() (string, error)
	workDir   func() (string, error)
}

// Option customizes Load, mainly for tests.
type Option func(*loadOptions)

// WithEnvLookup overrides the environment lookup.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader overrides config-file reading.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(home func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = home }
}

type fileConfig struct {
	APIURL       string `json:"api_url"`
	DemoMode     *bool  `json:"demo_mode"`
	HTTPTimeout  string `json:"http_timeout"`
	PollInterval string `json:"poll_interval"`
	PollDeadline string `json:"poll_deadline"`
	LogLevel     string `json:"log_level"`
}

// Load resolves the configuration. Precedence: defaults < config file < env.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
		workDir:   os.Getwd,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Config{
		APIURL:       DefaultAPIURL,
		HTTPTimeout:  DefaultHTTPTimeout,
		PollInterval: DefaultPollInterval,
		PollDeadline: DefaultPollDeadline,
		LogLevel:     "info",
	}

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options.envLookup); err != nil {
		return Config{}, Metadata{}, err
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, options loadOptions) error {
	var paths []string
	if home, err := options.homeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	if wd, err := options.workDir(); err == nil {
		paths = append(paths, filepath.Join(wd, FileName))
	}

	for _, path := range paths {
		data, err := options.readFile(path)
		if err != nil {
			continue
		}
		var fc fileConfig
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if fc.APIURL != "" {
			cfg.APIURL = fc.APIURL
			meta.sources["APIURL"] = SourceFile
		}
		if fc.DemoMode != nil {
			cfg.DemoMode = *fc.DemoMode
			meta.sources["DemoMode"] = SourceFile
		}
		if fc.LogLevel != "" {
			cfg.LogLevel = fc.LogLevel
			meta.sources["LogLevel"] = SourceFile
		}
		for _, item := range []struct {
			raw   string
			field string
			dst   *time.Duration
		}{
			{fc.HTTPTimeout, "HTTPTimeout", &cfg.HTTPTimeout},
			{fc.PollInterval, "PollInterval", &cfg.PollInterval},
			{fc.PollDeadline, "PollDeadline", &cfg.PollDeadline},
		} {
			if item.raw == "" {
				continue
			}
			d, err := time.ParseDuration(item.raw)
			if err != nil {
				return fmt.Errorf("parse %s %s: %w", path, item.field, err)
			}
			*item.dst = d
			meta.sources[item.field] = SourceFile
		}
		return nil
	}
	return nil
}

func applyEnv(cfg *Config, meta *Metadata, lookup func(string) (string, bool)) error {
	if v, ok := lookup("DOCUFLOW_API_URL"); ok && v != "" {
		cfg.APIURL = v
		meta.sources["APIURL"] = SourceEnv
	}
	if v, ok := lookup("DOCUFLOW_DEMO_MODE"); ok && v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse DOCUFLOW_DEMO_MODE: %w", err)
		}
		cfg.DemoMode = demo
		meta.sources["DemoMode"] = SourceEnv
	}
	if v, ok := lookup("DOCUFLOW_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
		meta.sources["LogLevel"] = SourceEnv
	}
	for _, item := range []struct {
		key   string
		field string
		dst   *time.Duration
	}{
		{"DOCUFLOW_HTTP_TIMEOUT", "HTTPTimeout", &cfg.HTTPTimeout},
		{"DOCUFLOW_POLL_INTERVAL", "PollInterval", &cfg.PollInterval},
		{"DOCUFLOW_POLL_DEADLINE", "PollDeadline", &cfg.PollDeadline},
	} {
		v, ok := lookup(item.key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", item.key, err)
		}
		*item.dst = d
		meta.sources[item.field] = SourceEnv
	}
	return nil
}

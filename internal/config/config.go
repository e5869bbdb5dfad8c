// Package config loads the optional rurema.hcl file used by the CLI.
//
// Every attribute is optional. Command-line flags override file values; the
// file only supplies defaults.
//
//	artifact    = "file:///usr/share/rurema"
//	cache_dir   = "~/.cache/rurema"
//	memory      = "256mb"
//	timeout     = "5s"
//	retry_fetch = true
//	log_level   = "debug"
//
//	server {
//	  port  = 8080
//	  rate  = 10
//	  burst = 20
//	  max_concurrent = 50
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/rurema/executor"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Server defaults.
const (
	DefaultPort  = 8080
	DefaultRate  = 10.0
	DefaultBurst = 20

	DefaultMaxConcurrent = 50
)

// Config is the decoded rurema.hcl file.
type Config struct {
	Artifact   string  `hcl:"artifact,optional"`
	CacheDir   string  `hcl:"cache_dir,optional"`
	Memory     string  `hcl:"memory,optional"`
	Timeout    string  `hcl:"timeout,optional"`
	RetryFetch bool    `hcl:"retry_fetch,optional"`
	LogLevel   string  `hcl:"log_level,optional"`
	LogFormat  string  `hcl:"log_format,optional"`
	Server     *Server `hcl:"server,block"`
}

// Server configures the HTTP surface of `rurema serve`.
type Server struct {
	Port  int     `hcl:"port,optional"`
	Rate  float64 `hcl:"rate,optional"`
	Burst int     `hcl:"burst,optional"`

	MaxConcurrent int `hcl:"max_concurrent,optional"`

	// TrustProxy keys rate limiting by X-Forwarded-For.
	TrustProxy bool `hcl:"trust_proxy,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Memory: "256mb",
		Server: &Server{
			Port:          DefaultPort,
			Rate:          DefaultRate,
			Burst:         DefaultBurst,
			MaxConcurrent: DefaultMaxConcurrent,
		},
	}
}

// Load parses and validates the HCL file at path.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}
	return decode(path, file)
}

// Parse decodes HCL source held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, diags)
	}
	return decode(filename, file)
}

func decode(filename string, file *hcl.File) (*Config, error) {
	cfg := Default()
	cfg.Server = nil

	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", filename, diags)
	}

	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Rate == 0 {
		cfg.Server.Rate = DefaultRate
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = DefaultBurst
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = DefaultMaxConcurrent
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks the values that are parsed lazily by the CLI.
func (c *Config) Validate() error {
	if _, err := ParseMemory(c.Memory); err != nil {
		return err
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if c.Server != nil {
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			return fmt.Errorf("server port %d out of range", c.Server.Port)
		}
		if c.Server.Rate < 0 {
			return fmt.Errorf("server rate must not be negative")
		}
		if c.Server.Burst < 0 {
			return fmt.Errorf("server burst must not be negative")
		}
		if c.Server.MaxConcurrent < 0 {
			return fmt.Errorf("server max_concurrent must not be negative")
		}
	}
	return nil
}

// TimeoutDuration parses Timeout. An empty value means no timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", c.Timeout)
	}
	return d, nil
}

// ExpandedCacheDir returns CacheDir with a leading ~ replaced by the home
// directory.
func (c *Config) ExpandedCacheDir() string {
	return ExpandHome(c.CacheDir)
}

// ExpandHome replaces a leading "~/" in path with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ParseMemory maps a memory limit name to wasm pages. An empty string means
// no limit.
func ParseMemory(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "", "0", "none":
		return 0, nil
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	case "256mb":
		return executor.MemoryLimit256MB, nil
	case "1gb":
		return executor.MemoryLimit1GB, nil
	default:
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb, 1gb)", s)
	}
}

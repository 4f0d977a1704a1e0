package config

import (
	"os"

	"github.com/cockroachdb/errors"
	yaml "github.com/goccy/go-yaml"
)

// TaskSpec describes one workload the simulator spawns at boot.
type TaskSpec struct {
	Name     string `yaml:"name"`
	Priority int64  `yaml:"priority"`
	Kind     string `yaml:"kind"`   // spin, clock, memory, info
	Rounds   int    `yaml:"rounds"` // how many times the workload loops
}

// Config mirrors config.yaml
type Config struct {
	BigStride       int64      `yaml:"big_stride"`       // 65536 (by default)
	DefaultPriority int64      `yaml:"default_priority"` // 16 (by default)
	SliceUS         uint64     `yaml:"slice_us"`         // 10000 (by default), 0 disables preemption
	TickUS          uint64     `yaml:"tick_us"`          // 1000 (by default)
	Clock           string     `yaml:"clock"`            // monotonic or tick
	UserBase        uint64     `yaml:"user_base"`        // 0x10000 (by default)
	UserPages       int        `yaml:"user_pages"`       // 4 (by default)
	MaxHeapPages    int        `yaml:"max_heap_pages"`   // 64 (by default)
	LogLevel        string     `yaml:"log_level"`
	LogFormat       string     `yaml:"log_format"`
	Tasks           []TaskSpec `yaml:"tasks"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BigStride:       1 << 16,
		DefaultPriority: 16,
		SliceUS:         10000,
		TickUS:          1000,
		Clock:           "monotonic",
		UserBase:        0x10000,
		UserPages:       4,
		MaxHeapPages:    64,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only. A file that does not parse is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	cfg.clamp()
	return cfg, nil
}

// sanity clamps
func (cfg *Config) clamp() {
	def := Default()
	if cfg.BigStride <= 0 {
		cfg.BigStride = def.BigStride
	}
	if cfg.DefaultPriority < 2 {
		cfg.DefaultPriority = 2
	}
	if cfg.TickUS == 0 {
		cfg.TickUS = def.TickUS
	}
	if cfg.Clock != "tick" {
		cfg.Clock = "monotonic"
	}
	if cfg.UserBase%4096 != 0 {
		cfg.UserBase = def.UserBase
	}
	if cfg.UserPages <= 0 {
		cfg.UserPages = def.UserPages
	}
	if cfg.MaxHeapPages < 0 {
		cfg.MaxHeapPages = 0
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Priority == 0 {
			cfg.Tasks[i].Priority = cfg.DefaultPriority
		}
		if cfg.Tasks[i].Rounds <= 0 {
			cfg.Tasks[i].Rounds = 1
		}
	}
}

// Package config loads the settings shared by the meshgen CLI, the
// coordinator and the worker nodes.
//
// Settings start from Default, are overlaid by an optional YAML file and then
// by MESH_* environment variables. The file and the environment use the same
// dotted key names: quality.min_angle in YAML is MESH_QUALITY_MIN_ANGLE in the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
)

// ErrConfig reports an invalid or undecodable configuration.
var ErrConfig = errors.New("config error")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MESH_"

// Transports.
const (
	TransportLocal = "local"
	TransportRedis = "redis"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Domain is the meshed rectangle.
type Domain struct {
	MinX float64 `mapstructure:"min_x" yaml:"min_x"`
	MinY float64 `mapstructure:"min_y" yaml:"min_y"`
	MaxX float64 `mapstructure:"max_x" yaml:"max_x"`
	MaxY float64 `mapstructure:"max_y" yaml:"max_y"`
}

// BBox converts d.
func (d Domain) BBox() geom.BBox { return geom.Box(d.MinX, d.MinY, d.MaxX, d.MaxY) }

// Store selects the result store.
type Store struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Coordinator holds the coordinator service settings.
type Coordinator struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// Addr is the URL workers use to reach the coordinator.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// HealthInterval is the period of worker health probes.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// Node holds the worker node settings.
type Node struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Listen      string `mapstructure:"listen" yaml:"listen"`
	Addr        string `mapstructure:"addr" yaml:"addr"`
	Coordinator string `mapstructure:"coordinator" yaml:"coordinator"`
}

// Config is the full set of settings.
type Config struct {
	Workers    int            `mapstructure:"workers" yaml:"workers"`
	Rows       int            `mapstructure:"rows" yaml:"rows"`
	Cols       int            `mapstructure:"cols" yaml:"cols"`
	HaloFactor int            `mapstructure:"halo_factor" yaml:"halo_factor"`
	Quality    kernel.Quality `mapstructure:"quality" yaml:"quality"`
	Refine     bool           `mapstructure:"refine" yaml:"refine"`
	Domain     Domain         `mapstructure:"domain" yaml:"domain"`

	Input        string `mapstructure:"input" yaml:"input"`
	RandomPoints int    `mapstructure:"random_points" yaml:"random_points"`
	Seed         int64  `mapstructure:"seed" yaml:"seed"`
	Output       string `mapstructure:"output" yaml:"output"`

	Transport    string        `mapstructure:"transport" yaml:"transport"`
	RedisAddr    string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Compress     bool          `mapstructure:"compress" yaml:"compress"`

	Store       Store       `mapstructure:"store" yaml:"store"`
	Log         Log         `mapstructure:"log" yaml:"log"`
	Coordinator Coordinator `mapstructure:"coordinator" yaml:"coordinator"`
	Node        Node        `mapstructure:"node" yaml:"node"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Workers:    4,
		HaloFactor: 2,
		Quality: kernel.Quality{
			MinAngle:      20,
			MinEdge:       0.5,
			MaxEdge:       25,
			MaxIterations: kernel.DefaultMaxIterations,
		},
		Refine:       true,
		Domain:       Domain{MaxX: 1000, MaxY: 1000},
		RandomPoints: 1000,
		Seed:         1,
		Output:       "mesh.ply",
		Transport:    TransportLocal,
		PollInterval: time.Millisecond,
		Compress:     true,
		Store:        Store{Driver: StoreMemory},
		Log:          Log{Level: "info", Format: "text"},
		Coordinator: Coordinator{
			Listen:         ":8080",
			Addr:           "http://localhost:8080",
			HealthInterval: 5 * time.Second,
		},
		Node: Node{Listen: ":8081"},
	}
}

// Load reads path (if not empty) over the defaults, applies the environment
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays the YAML document data. Unknown keys are an error.
func (c *Config) Merge(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse yaml: %v", ErrConfig, err)
	}
	return c.decode(raw)
}

// ApplyEnv overlays MESH_* entries from environ, given in os.Environ form.
// Variables that match no key are ignored.
func (c *Config) ApplyEnv(environ []string) error {
	lookup := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			lookup[k] = v
		}
	}
	raw := make(map[string]any)
	for _, key := range Keys() {
		v, ok := lookup[EnvName(key)]
		if !ok {
			continue
		}
		setPath(raw, strings.Split(key, "."), v)
	}
	if len(raw) == 0 {
		return nil
	}
	return c.decode(raw)
}

// EnvName returns the environment variable overriding key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys lists every dotted setting name, in declaration order.
func Keys() []string {
	return []string{
		"workers", "rows", "cols", "halo_factor",
		"quality.min_angle", "quality.min_edge", "quality.max_edge", "quality.max_iterations",
		"refine",
		"domain.min_x", "domain.min_y", "domain.max_x", "domain.max_y",
		"input", "random_points", "seed", "output",
		"transport", "redis_addr", "poll_interval", "compress",
		"store.driver", "store.path",
		"log.level", "log.format",
		"coordinator.listen", "coordinator.addr", "coordinator.health_interval",
		"node.id", "node.listen", "node.addr", "node.coordinator",
	}
}

func setPath(m map[string]any, path []string, v string) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func (c *Config) decode(raw map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           c,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// Layout resolves the tile grid shape: explicit rows and cols win, one of them
// is derived from workers, otherwise workers is factored.
func (c *Config) Layout() (rows, cols int, err error) {
	switch {
	case c.Rows > 0 && c.Cols > 0:
		rows, cols = c.Rows, c.Cols
	case c.Rows > 0:
		rows, cols = c.Rows, c.Workers/c.Rows
	case c.Cols > 0:
		rows, cols = c.Workers/c.Cols, c.Cols
	default:
		if rows, cols, err = grid.Factor(c.Workers); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	if rows < 1 || cols < 1 || rows*cols != c.Workers {
		return 0, 0, fmt.Errorf("%w: %d workers do not form a %dx%d grid", ErrConfig, c.Workers, rows, cols)
	}
	return rows, cols, nil
}

// Validate checks c as a whole.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	} else if _, _, err := c.Layout(); err != nil {
		add("%d workers do not form a %dx%d grid", c.Workers, c.Rows, c.Cols)
	}
	if c.HaloFactor < 1 {
		add("halo_factor must be at least 1, got %d", c.HaloFactor)
	}
	if err := c.Quality.Validate(); err != nil {
		add("quality: %v", err)
	}
	if c.Domain.BBox().Empty() {
		add("domain %v is empty", c.Domain.BBox())
	}
	if c.RandomPoints < 0 {
		add("random_points must not be negative")
	}
	switch c.Transport {
	case TransportLocal:
	case TransportRedis:
		if c.RedisAddr == "" {
			add("transport redis needs redis_addr")
		}
	default:
		add("unknown transport %q", c.Transport)
	}
	if c.PollInterval <= 0 {
		add("poll_interval must be positive")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			add("store sqlite needs store.path")
		}
	default:
		add("unknown store driver %q", c.Store.Driver)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("%v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		add("unknown log format %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

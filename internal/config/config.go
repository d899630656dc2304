package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/lanternops/kvmd/internal/logging"
)

var log = logging.L("config")

// Direction is one of the four edges a screen can have a neighbor across.
type Direction string

const (
	Left   Direction = "left"
	Right  Direction = "right"
	Top    Direction = "top"
	Bottom Direction = "bottom"
)

// Screen describes one participant in the virtual desktop.
type Screen struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Aliases []string          `mapstructure:"aliases" yaml:"aliases,omitempty"`
	Options map[string]int    `mapstructure:"options" yaml:"options,omitempty"`
}

// Link is one edge of the topology: from Screen's Direction leads to To.
type Link struct {
	Screen    string    `mapstructure:"screen" yaml:"screen"`
	Direction Direction `mapstructure:"direction" yaml:"direction"`
	To        string    `mapstructure:"to" yaml:"to"`
}

// Config is the root of the screens/topology/options model: the
// configuration file parser named abstractly by the core as an external
// collaborator (spec §6, Configuration).
type Config struct {
	Address   string   `mapstructure:"address" yaml:"address"`
	Name      string   `mapstructure:"name" yaml:"name"`
	Screens   []Screen `mapstructure:"screens" yaml:"screens"`
	Links     []Link   `mapstructure:"links" yaml:"links"`
	Options   map[string]int `mapstructure:"options" yaml:"options,omitempty"`

	HeartbeatSeconds  int `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	HeartbeatMultiple int `mapstructure:"heartbeat_timeout_multiple" yaml:"heartbeat_timeout_multiple"`
	CloseTimeoutSeconds int `mapstructure:"close_timeout_seconds" yaml:"close_timeout_seconds"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	AuditEnabled    bool `mapstructure:"audit_enabled" yaml:"audit_enabled"`
	AuditMaxSizeMB  int  `mapstructure:"audit_max_size_mb" yaml:"audit_max_size_mb"`
	AuditMaxBackups int  `mapstructure:"audit_max_backups" yaml:"audit_max_backups"`

	AdminWSEnabled bool   `mapstructure:"admin_ws_enabled" yaml:"admin_ws_enabled"`
	AdminWSAddress string `mapstructure:"admin_ws_address" yaml:"admin_ws_address"`

	CollectorURL  string `mapstructure:"collector_url" yaml:"collector_url"`
	CollectorAuth string `mapstructure:"collector_auth_token" yaml:"collector_auth_token"`
}

// Default returns the built-in defaults applied before a config file is read.
func Default() *Config {
	return &Config{
		Address:             ":24800",
		HeartbeatSeconds:    2,
		HeartbeatMultiple:   2,
		CloseTimeoutSeconds: 5,
		LogLevel:            "info",
		LogFormat:           "text",
		LogMaxSizeMB:        50,
		LogMaxBackups:       3,
		AuditEnabled:        true,
		AuditMaxSizeMB:      50,
		AuditMaxBackups:     3,
		AdminWSEnabled:      false,
		AdminWSAddress:      ":24801",
	}
}

// Load reads a screens file via viper (YAML by default) with KVMD_
// environment overrides, validates it, and applies the default-screen
// fallback from the original implementation when no screens are
// configured at all (spec §9 open question).
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kvmd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("KVMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Screens) == 0 {
		name := cfg.Name
		if name == "" {
			name, _ = os.Hostname()
		}
		if name == "" {
			name = "localhost"
		}
		log.Warn("no screens configured, adding local machine as sole screen", "name", name)
		cfg.Screens = []Screen{{Name: name}}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Screens[0].Name
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "kvmd")
	case "darwin":
		return "/Library/Application Support/kvmd"
	default:
		return "/etc/kvmd"
	}
}

// Topology is a read-only, lookup-optimized view built from a loaded
// Config's Screens/Links. It implements the Configuration collaborator
// interface named in spec §6: isScreen, getCanonicalName, getNeighbor,
// getOptions.
type Topology struct {
	mu        sync.RWMutex
	canonical map[string]string // lowercased alias/name -> canonical name
	options   map[string]map[string]int
	neighbors map[string]map[Direction]string
	primary   string
	address   string
}

// NewTopology builds a Topology snapshot from cfg. Returns an error if the
// config has duplicate screen names/aliases (case-insensitively) or a link
// referencing an undeclared screen.
func NewTopology(cfg *Config) (*Topology, error) {
	t := &Topology{
		canonical: make(map[string]string),
		options:   make(map[string]map[string]int),
		neighbors: make(map[string]map[Direction]string),
		primary:   cfg.Name,
		address:   cfg.Address,
	}

	for _, s := range cfg.Screens {
		key := strings.ToLower(s.Name)
		if existing, ok := t.canonical[key]; ok {
			return nil, fmt.Errorf("duplicate screen name or alias %q (already canonical for %q)", s.Name, existing)
		}
		t.canonical[key] = s.Name
		merged := make(map[string]int, len(cfg.Options)+len(s.Options))
		for k, v := range cfg.Options {
			merged[k] = v
		}
		for k, v := range s.Options {
			merged[k] = v
		}
		t.options[s.Name] = merged
		t.neighbors[s.Name] = make(map[Direction]string)

		for _, alias := range s.Aliases {
			akey := strings.ToLower(alias)
			if existing, ok := t.canonical[akey]; ok {
				return nil, fmt.Errorf("duplicate alias %q (already canonical for %q)", alias, existing)
			}
			t.canonical[akey] = s.Name
		}
	}

	for _, l := range cfg.Links {
		from, ok := t.canonical[strings.ToLower(l.Screen)]
		if !ok {
			return nil, fmt.Errorf("link references undeclared screen %q", l.Screen)
		}
		to, ok := t.canonical[strings.ToLower(l.To)]
		if !ok {
			return nil, fmt.Errorf("link target %q is not a declared screen", l.To)
		}
		t.neighbors[from][l.Direction] = to
	}

	if _, ok := t.canonical[strings.ToLower(t.primary)]; !ok {
		return nil, fmt.Errorf("primary screen %q is not among the configured screens", t.primary)
	}

	return t, nil
}

// IsScreen reports whether name (or one of its aliases) names a configured screen.
func (t *Topology) IsScreen(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.canonical[strings.ToLower(name)]
	return ok
}

// CanonicalName resolves an alias to its canonical screen name.
func (t *Topology) CanonicalName(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.canonical[strings.ToLower(name)]
	return c, ok
}

// Neighbor returns the configured neighbor of screen in direction dir,
// without skip-through resolution (that lives in internal/switching,
// which needs to know connectivity).
func (t *Topology) Neighbor(screen string, dir Direction) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.neighbors[screen]
	if !ok {
		return "", false
	}
	to, ok := m[dir]
	return to, ok
}

// Options returns the merged global+per-screen option map for screen.
func (t *Topology) Options(screen string) map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.options[screen]
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// PrimaryName returns the canonical name of the primary screen.
func (t *Topology) PrimaryName() string {
	return t.primary
}

// Address returns the listen address configured for the wire protocol.
func (t *Topology) Address() string {
	return t.address
}

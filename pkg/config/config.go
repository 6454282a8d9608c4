// Package config loads the repository-level configuration that parameterizes
// the service facade: the workflow's allowed states, cache tuning, and hook
// behavior. It is read with gopkg.in/yaml.v3, matching the rest of the
// ecosystem's preference for a real parser over hand-rolled key=value
// parsing.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgeline/core/pkg/coreerr"
)

// StateKind classifies a workflow state for filtering and reporting,
// independent of the state's configured display name.
type StateKind string

const (
	Done       StateKind = "done"
	InProgress StateKind = "in_progress"
	Blocked    StateKind = "blocked"
	Todo       StateKind = "todo"
	Backlog    StateKind = "backlog"
)

// WorkflowState is one entry in the configured workflow: a state value as
// stored on entities, its display label, and its classification.
type WorkflowState struct {
	Value string    `yaml:"value"`
	Label string    `yaml:"label"`
	Kind  StateKind `yaml:"kind"`
}

// Workflow configures the set of states entities may hold.
type Workflow struct {
	States       []WorkflowState `yaml:"states"`
	DefaultState string          `yaml:"default_state"`
}

// Cache configures the snapshot cache's sizing and maintenance cadence.
type Cache struct {
	Capacity            int           `yaml:"capacity"`
	TTL                 time.Duration `yaml:"ttl"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// Hooks configures whether and how post-append hooks run.
type Hooks struct {
	Enabled        bool          `yaml:"enabled"`
	Disabled       []string      `yaml:"disabled"`
	Timeout        time.Duration `yaml:"timeout"`
	AsyncPostHooks bool          `yaml:"async_post_hooks"`
	HooksDir       string        `yaml:"hooks_dir"`
}

// Actor configures the default identity used when no actor can otherwise be
// resolved.
type Actor struct {
	DefaultName  string `yaml:"default_name"`
	DefaultEmail string `yaml:"default_email"`
}

// Config is the full repository configuration.
type Config struct {
	Workflow Workflow `yaml:"workflow"`
	Cache    Cache    `yaml:"cache"`
	Hooks    Hooks    `yaml:"hooks"`
	Actor    Actor    `yaml:"actor"`
}

// Default returns the built-in configuration used when no config file is
// present: a five-state workflow resembling common issue trackers, a modest
// cache budget, and hooks disabled.
func Default() *Config {
	return &Config{
		Workflow: Workflow{
			States: []WorkflowState{
				{Value: "backlog", Label: "Backlog", Kind: Backlog},
				{Value: "todo", Label: "Todo", Kind: Todo},
				{Value: "in_progress", Label: "In Progress", Kind: InProgress},
				{Value: "blocked", Label: "Blocked", Kind: Blocked},
				{Value: "done", Label: "Done", Kind: Done},
			},
			DefaultState: "backlog",
		},
		Cache: Cache{
			Capacity:            10_000,
			TTL:                 24 * time.Hour,
			MaintenanceInterval: 10 * time.Minute,
		},
		Hooks: Hooks{
			Enabled: false,
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads and parses a YAML configuration file, falling back to Default
// for any field the file leaves unset. A list the file does set, such as
// workflow.states, replaces the default list rather than merging with it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerr.Storage(false, err, "reading config file %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, coreerr.Validation("parsing config file %s: %v", path, err)
	}
	return cfg, nil
}

// AllowedState reports whether value is one of the workflow's configured
// states.
func (c *Config) AllowedState(value string) bool {
	for _, s := range c.Workflow.States {
		if s.Value == value {
			return true
		}
	}
	return false
}

// StateKindOf returns the classification configured for a state value, and
// whether the value is recognized at all.
func (c *Config) StateKindOf(value string) (StateKind, bool) {
	for _, s := range c.Workflow.States {
		if s.Value == value {
			return s.Kind, true
		}
	}
	return "", false
}

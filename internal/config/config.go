package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models stitchline.yml: the site-level rulebook shared by the CLI and
// the API server. It is imported into the DB and read from there.
type Config struct {
	Site struct {
		Name string `yaml:"name"`
	} `yaml:"site"`
	Actions struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"actions"`
	Teams map[string]Team `yaml:"teams"`
	Tasks struct {
		DefaultPriority string `yaml:"default_priority"`
		DueSoonHours    int    `yaml:"due_soon_hours"`
	} `yaml:"tasks"`
}

type Team struct {
	Description string `yaml:"description"`
}

var validPriorities = map[string]bool{
	"low": true, "medium": true, "high": true, "urgent": true,
}

// KnownActionType reports whether t is in the catalog. An empty catalog
// accepts anything; workflow import tightens this only when the catalog is
// populated.
func (c *Config) KnownActionType(t string) bool {
	if len(c.Actions.Catalog) == 0 {
		return true
	}
	_, ok := c.Actions.Catalog[t]
	return ok
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.Name == "" {
		return fmt.Errorf("config.site.name is required")
	}
	for kind := range c.Actions.Catalog {
		if kind == "" {
			return fmt.Errorf("config.actions.catalog contains empty action type")
		}
	}
	for name := range c.Teams {
		if name == "" {
			return fmt.Errorf("config.teams contains empty team name")
		}
	}
	if p := c.Tasks.DefaultPriority; p != "" && !validPriorities[p] {
		return fmt.Errorf("config.tasks.default_priority %q is not one of low, medium, high, urgent", p)
	}
	if c.Tasks.DueSoonHours < 0 {
		return fmt.Errorf("config.tasks.due_soon_hours must not be negative")
	}
	return nil
}

// DefaultPriority returns the configured default task priority, or medium.
func (c *Config) DefaultPriority() string {
	if c.Tasks.DefaultPriority != "" {
		return c.Tasks.DefaultPriority
	}
	return "medium"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stitchline.yml")
}

// Default returns the default Config struct for a site.
func Default(siteName string) *Config {
	var cfg Config
	cfg.Site.Name = siteName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, siteName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `site:
  name: %s

actions:
  catalog:
    scan:
      description: "Scan the item's QR or barcode at a station"
    photo:
      description: "Photograph the item for quality records"
    note:
      description: "Free-form note from the operator"
    approval:
      description: "Supervisor sign-off"
    measurement:
      description: "Record a measurement against spec"
    inspection:
      description: "Full quality inspection checklist"

teams:
  cutting:
    description: "Fabric cutting floor"
  sewing:
    description: "Assembly and sewing lines"
  quality:
    description: "Final inspection and packing"

tasks:
  default_priority: medium
  due_soon_hours: 24
`

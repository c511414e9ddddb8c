package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("mill-one")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mill-one", cfg.Site.Name)
	assert.Contains(t, cfg.Actions.Catalog, "scan")
	assert.Contains(t, cfg.Actions.Catalog, "inspection")
	assert.Contains(t, cfg.Teams, "sewing")
	assert.Equal(t, "medium", cfg.DefaultPriority())
	assert.Equal(t, 24, cfg.Tasks.DueSoonHours)
}

func TestKnownActionType(t *testing.T) {
	cfg := Default("mill-one")
	assert.True(t, cfg.KnownActionType("scan"))
	assert.False(t, cfg.KnownActionType("teleport"))

	// an empty catalog accepts anything
	cfg.Actions.Catalog = nil
	assert.True(t, cfg.KnownActionType("teleport"))
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
site:
  name: north-plant
actions:
  catalog:
    scan:
      description: "scan it"
teams:
  finishing:
    description: "Finishing line"
tasks:
  default_priority: high
  due_soon_hours: 8
`))
	require.NoError(t, err)
	assert.Equal(t, "north-plant", cfg.Site.Name)
	assert.Equal(t, "high", cfg.DefaultPriority())
	assert.Contains(t, cfg.Teams, "finishing")
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := FromYAML([]byte(`site: {name: ""}`))
	require.Error(t, err)

	_, err = FromYAML([]byte(`
site: {name: plant}
tasks: {default_priority: whenever}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_priority")

	_, err = FromYAML([]byte(`
site: {name: plant}
tasks: {due_soon_hours: -1}
`))
	require.Error(t, err)
}

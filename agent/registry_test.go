package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	name string
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Process(ctx context.Context, task *Task) (*Result, error) {
	return &Result{Message: "ok"}, nil
}

func stubFactory(name string) Factory {
	return func(deps Deps) (Agent, error) {
		return &stubAgent{name: name}, nil
	}
}

func TestRegistryDefaults(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	enabled := reg.EnabledAgents()
	assert.Len(t, enabled, 9)
	assert.Contains(t, enabled, NameDatab)
	assert.Contains(t, enabled, NameGus)
	assert.True(t, reg.IsEnabled(NameElCajas))
	assert.False(t, reg.IsEnabled("ghost"))
}

func TestRegistryLoadsManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	manifest := `agents:
  - agent_name: capi_datab
    node_class_path: agents.capi_datab
    enabled: true
  - agent_name: capi_desktop
    node_class_path: agents.capi_desktop
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	reg, err := NewRegistry(WithManifestPath(path))
	require.NoError(t, err)

	assert.Equal(t, []string{NameDatab}, reg.EnabledAgents())
	assert.False(t, reg.IsEnabled(NameDesktop))
	require.NotNil(t, reg.GetAgentManifest(NameDesktop))
}

func TestRegistryMissingManifestFallsBackToDefaults(t *testing.T) {
	reg, err := NewRegistry(WithManifestPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	assert.Len(t, reg.EnabledAgents(), 9)
}

func TestRegistryRejectsMalformedManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [not: valid"), 0o644))

	_, err := NewRegistry(WithManifestPath(path))
	require.Error(t, err)
}

func TestRegistrySetEnabled(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, reg.SetEnabled(NameDesktop, false))
	assert.False(t, reg.IsEnabled(NameDesktop))
	assert.NotContains(t, reg.EnabledAgents(), NameDesktop)

	require.NoError(t, reg.SetEnabled(NameDesktop, true))
	assert.True(t, reg.IsEnabled(NameDesktop))

	assert.Error(t, reg.SetEnabled("ghost", true))
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, reg.Register("custom"))
	assert.True(t, reg.IsEnabled("custom"))
	m := reg.GetAgentManifest("custom")
	require.NotNil(t, m)
	assert.Equal(t, "agents.custom", m.NodeClassPath)

	require.NoError(t, reg.Unregister("custom"))
	assert.False(t, reg.IsEnabled("custom"))
	assert.Nil(t, reg.GetAgentManifest("custom"))

	assert.Error(t, reg.Unregister("custom"))
}

func TestRegistryVersionAdvancesOnMutation(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	v1, _ := reg.Version()
	require.NoError(t, reg.SetEnabled(NameDesktop, false))
	v2, _ := reg.Version()
	assert.Greater(t, v2, v1)

	require.NoError(t, reg.Refresh())
	v3, _ := reg.Version()
	assert.Greater(t, v3, v2)
}

func TestRegistryOnChange(t *testing.T) {
	var calls int
	reg, err := NewRegistry(WithOnChange(func() { calls++ }))
	require.NoError(t, err)
	// The initial load fires once.
	assert.Equal(t, 1, calls)

	require.NoError(t, reg.SetEnabled(NameDesktop, false))
	require.NoError(t, reg.Register("custom"))
	require.NoError(t, reg.Unregister("custom"))
	assert.Equal(t, 4, calls)
}

func TestRegistryInstantiateCaches(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	reg.RegisterFactory("agents."+NameGus, stubFactory(NameGus))

	first, err := reg.Instantiate(NameGus)
	require.NoError(t, err)
	second, err := reg.Instantiate(NameGus)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegistryInstantiateErrors(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Instantiate("ghost")
	assert.ErrorContains(t, err, "unknown agent")

	require.NoError(t, reg.SetEnabled(NameGus, false))
	_, err = reg.Instantiate(NameGus)
	assert.ErrorContains(t, err, "disabled")

	_, err = reg.Instantiate(NameDatab)
	assert.ErrorContains(t, err, "no factory registered")
}

func TestRegistryRefreshInvalidatesInstances(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	reg.RegisterFactory("agents."+NameGus, stubFactory(NameGus))

	first, err := reg.Instantiate(NameGus)
	require.NoError(t, err)

	require.NoError(t, reg.Refresh())
	second, err := reg.Instantiate(NameGus)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

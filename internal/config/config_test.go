package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gatewaySegment:
  interface: eth0
boilerSegment:
  address: 192.168.2.1
delta: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 35601, cfg.Ports.Discovery, "unset ports keep the documented default")
	assert.Equal(t, 23, cfg.Ports.BoilerControl)
	assert.Equal(t, 10, cfg.Delta)
	assert.Equal(t, "eth0", cfg.GatewaySegment.Interface)
	assert.Equal(t, "192.168.2.1", cfg.BoilerSegment.Address)
}

func TestValidateRejectsMissingSegment(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsNegativeDelta(t *testing.T) {
	cfg := Default()
	cfg.GatewaySegment.Interface = "eth0"
	cfg.BoilerSegment.Interface = "eth1"
	cfg.Delta = -1
	assert.Error(t, cfg.Validate())
}

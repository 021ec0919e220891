package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerConfig_DefaultsFromEnv(t *testing.T) {
	conf := &PlayerConfig{}
	require.NoError(t, conf.LoadFromEnv())

	assert.Equal(t, "ms", conf.PbPosUnits)
	assert.EqualValues(t, 1000, conf.PbPosIntervalMS)
	assert.True(t, conf.SeekToSyncPoint)
	assert.True(t, conf.SkipToRequestedPos)
	assert.False(t, conf.RenderSkipped)
	assert.EqualValues(t, 10000, conf.NodeCmdTimeoutMS)
	assert.Equal(t, "pvplayer", conf.ProductInfo.ProductName)
	assert.Equal(t, 8080, conf.Gateway.Port)
}

func TestPlayerConfig_LoadFromFileWithOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
pbpos_enable: true
pbpos_interval: 250
seektosyncpoint: false
nodecmd_timeout: 5000
productinfo:
  productname: testbench
  device: emulator
gateway:
  port: 9090
`), 0o644))

	conf := &PlayerConfig{}
	require.NoError(t, conf.LoadFromFile(configPath))

	assert.True(t, conf.PbPosEnable)
	assert.EqualValues(t, 250, conf.PbPosIntervalMS)
	assert.False(t, conf.SeekToSyncPoint)
	assert.EqualValues(t, 5000, conf.NodeCmdTimeoutMS)
	assert.Equal(t, "testbench", conf.ProductInfo.ProductName)
	assert.Equal(t, "emulator", conf.ProductInfo.Device)
	assert.Equal(t, 9090, conf.Gateway.Port)
}

func TestPlayerConfig_ValidationRejectsBadValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
pbpos_units: lightyears
`), 0o644))

	conf := &PlayerConfig{}
	assert.Error(t, conf.LoadFromFile(configPath))
}

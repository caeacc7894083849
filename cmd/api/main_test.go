package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestNestedKeysFromEnvironment(t *testing.T) {

	require := require.New(t)

	resetViper(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SHELLY2MQTT_METER_HOST", "10.0.0.5")
	t.Setenv("SHELLY2MQTT_METER_ROLE", "pvinverter")
	t.Setenv("SHELLY2MQTT_MONITOR_POLL_INTERVAL_MILLIS", "2000")

	initConfig()
	cfg, err := readConfig()
	require.NoError(err)
	require.Equal("10.0.0.5", cfg.Meter.Host)
	require.Equal(string(domain.RolePVInverter), cfg.Meter.Role)
	require.Equal(uint32(2000), cfg.MonitorConfig.PollIntervalMillis)
}

func TestUnreadableConfigFile(t *testing.T) {

	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meter:\n  host: [unterminated\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SHELLY2MQTT_METER_HOST", "10.0.0.5")

	initConfig()
	_, err := readConfig()
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	var parseErr viper.ConfigParseError
	assert.True(t, errors.As(err, &parseErr), "file error is kept")
}

func TestConfigFile(t *testing.T) {

	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "meter:\n  host: 192.168.1.40\n  generation: 2\nmqtt:\n  base_topic: garage\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", path)

	initConfig()
	cfg, err := readConfig()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", cfg.Meter.Host)
	assert.Equal(t, 2, cfg.Meter.Generation)
	assert.Equal(t, "garage", cfg.MQTT.BaseTopic)
	assert.Equal(t, string(domain.RoleGrid), cfg.Meter.Role)
}

package config

import (
	"testing"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Meter: MeterConfig{
			AccessType: "OnPremise",
			Host:       "192.168.1.50",
			Generation: 1,
			Role:       "PVInverter",
		},
		MQTT: MQTTConfig{
			BaseTopic:        "Shelly2MQTT",
			HADiscoveryTopic: "homeassistant",
		},
		MonitorConfig: MonitorConfig{
			PollIntervalMillis:   1000,
			RequestTimeoutMillis: 800,
		},
	}
}

func TestValidateNormalizes(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	assert.NoError(cfg.Validate())
	assert.Equal("pvinverter", cfg.Meter.Role)
	assert.Equal("shelly2mqtt", cfg.MQTT.BaseTopic)
	assert.Equal(domain.MeterSnapshot{Generation: 1, MeterIndex: 0, Role: domain.RolePVInverter}, cfg.MeterSnapshot())
}

func TestValidateRejects(t *testing.T) {

	cases := map[string]func(*Config){
		"cloud access":        func(c *Config) { c.Meter.AccessType = "Cloud" },
		"unknown role":        func(c *Config) { c.Meter.Role = "battery" },
		"empty host":          func(c *Config) { c.Meter.Host = "" },
		"generation zero":     func(c *Config) { c.Meter.Generation = 0 },
		"negative index":      func(c *Config) { c.Meter.MeterIndex = -1 },
		"fast poll":           func(c *Config) { c.MonitorConfig.PollIntervalMillis = 100 },
		"no timeout":          func(c *Config) { c.MonitorConfig.RequestTimeoutMillis = 0 },
		"timeout above poll":  func(c *Config) { c.MonitorConfig.RequestTimeoutMillis = 1000 },
		"invalid base topic":  func(c *Config) { c.MQTT.BaseTopic = "shelly/em" },
		"invalid disco topic": func(c *Config) { c.MQTT.HADiscoveryTopic = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
		})
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("Lorem_Topic1")
	assert.NoError(err)
	assert.Equal("lorem_topic1", topic)

	_, err = CheckMQTTTopic("lorem/topic")
	assert.ErrorIs(err, ErrInvalidTopic)
}

func TestMonitorDurations(t *testing.T) {

	assert := assert.New(t)

	m := MonitorConfig{PollIntervalMillis: 1500, RequestTimeoutMillis: 700, SignOfLifeMinutes: 2}
	assert.Equal(int64(1500), m.PollInterval().Milliseconds())
	assert.Equal(int64(700), m.RequestTimeout().Milliseconds())
	assert.Equal(float64(2), m.SignOfLife().Minutes())
}

package util

import (
	"github.com/berfenger/shelly2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Meter: config.MeterConfig{
			AccessType: "OnPremise",
			Host:       "-.-.-.-",
			Generation: 1,
			MeterIndex: 0,
			Role:       "grid",
		},
		Device: config.DeviceConfig{
			Instance: 40,
			Position: 0,
			MaxPower: 3680,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "shelly2mqtt",
			HADiscoveryTopic: "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis:   500,
			RequestTimeoutMillis: 200,
			SignOfLifeMinutes:    0,
		},
		Port: 8080,
	}
}

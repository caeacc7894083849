package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

const (
	MIN_POLL_INTERVAL_MILLIS = 250
)

var ErrInvalidTopic = errors.New("invalid topic. can only contain letters, numbers and underscores")

type Config struct {
	LogLevel      zapcore.Level
	LogFile       string        `mapstructure:"log_file"`
	LogMaxAge     int           `mapstructure:"log_max_age_days"`
	LogMaxBackups int           `mapstructure:"log_max_backups"`
	Meter         MeterConfig   `mapstructure:"meter"`
	Device        DeviceConfig  `mapstructure:"device"`
	MQTT          MQTTConfig    `mapstructure:"mqtt"`
	MonitorConfig MonitorConfig `mapstructure:"monitor"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

type MeterConfig struct {
	AccessType string `mapstructure:"access_type"`
	Host       string
	Username   string
	Password   string
	Generation int
	MeterIndex int `mapstructure:"meter_index"`
	Role       string
}

type DeviceConfig struct {
	Instance   int
	CustomName string `mapstructure:"custom_name"`
	Position   int
	MaxPower   float64 `mapstructure:"max_power"`
}

type MonitorConfig struct {
	PollIntervalMillis   uint32 `mapstructure:"poll_interval_millis"`
	RequestTimeoutMillis uint32 `mapstructure:"request_timeout_millis"`
	SignOfLifeMinutes    uint32 `mapstructure:"sign_of_life_minutes"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c MonitorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c MonitorConfig) SignOfLife() time.Duration {
	return time.Duration(c.SignOfLifeMinutes) * time.Minute
}

// MeterSnapshot is the part of the configuration a poll cycle reads.
func (c *Config) MeterSnapshot() domain.MeterSnapshot {
	return domain.MeterSnapshot{
		Generation: c.Meter.Generation,
		MeterIndex: c.Meter.MeterIndex,
		Role:       domain.Role(strings.ToLower(c.Meter.Role)),
	}
}

// Validate checks the configuration and normalizes the role and topics.
// Every returned error wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	if domain.AccessType(c.Meter.AccessType) != domain.AccessTypeOnPremise {
		return fmt.Errorf("%w: access type %q is not supported, only %q", domain.ErrConfiguration,
			c.Meter.AccessType, domain.AccessTypeOnPremise)
	}
	role, err := domain.ParseRole(strings.ToLower(c.Meter.Role))
	if err != nil {
		return err
	}
	c.Meter.Role = string(role)
	if c.Meter.Host == "" {
		return fmt.Errorf("%w: meter host is empty", domain.ErrConfiguration)
	}
	if c.Meter.Generation < 1 {
		return fmt.Errorf("%w: meter generation %d, must be 1 or greater", domain.ErrConfiguration, c.Meter.Generation)
	}
	if c.Meter.MeterIndex < 0 {
		return fmt.Errorf("%w: meter index %d is negative", domain.ErrConfiguration, c.Meter.MeterIndex)
	}
	if c.MonitorConfig.PollIntervalMillis < MIN_POLL_INTERVAL_MILLIS {
		return fmt.Errorf("%w: poll interval %dms, must be at least %dms", domain.ErrConfiguration,
			c.MonitorConfig.PollIntervalMillis, MIN_POLL_INTERVAL_MILLIS)
	}
	if c.MonitorConfig.RequestTimeoutMillis == 0 || c.MonitorConfig.RequestTimeoutMillis >= c.MonitorConfig.PollIntervalMillis {
		return fmt.Errorf("%w: request timeout %dms must be positive and shorter than the poll interval %dms",
			domain.ErrConfiguration, c.MonitorConfig.RequestTimeoutMillis, c.MonitorConfig.PollIntervalMillis)
	}
	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return fmt.Errorf("%w: mqtt.base_topic: %w", domain.ErrConfiguration, err)
	}
	c.MQTT.BaseTopic = baseTopic
	haTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return fmt.Errorf("%w: mqtt.ha_discovery_topic: %w", domain.ErrConfiguration, err)
	}
	c.MQTT.HADiscoveryTopic = haTopic
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", ErrInvalidTopic
	}
	return lowerBaseTopic, nil
}

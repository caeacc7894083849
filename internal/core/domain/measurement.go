package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfiguration      = errors.New("configuration error")
	ErrIdentityResolution = errors.New("identity resolution error")
	ErrInvalidReading     = errors.New("invalid reading")
)

type Role string

const (
	RoleGrid       Role = "grid"
	RolePVInverter Role = "pvinverter"
)

func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleGrid, RolePVInverter:
		return Role(value), nil
	}
	return "", fmt.Errorf("%w: role %q is not supported, use %q or %q", ErrConfiguration, value, RoleGrid, RolePVInverter)
}

type AccessType string

const (
	AccessTypeOnPremise AccessType = "OnPremise"
)

// MeterSnapshot holds the settings a poll cycle needs to interpret a reading.
// A cycle works on a copy, a new snapshot only arrives through an explicit reload.
type MeterSnapshot struct {
	Generation int
	MeterIndex int
	Role       Role
}

// Measurement is the normalized view of one poll cycle. Power and current are
// positive when importing from the grid; energies are cumulative kWh.
type Measurement struct {
	VoltageVolts     float64   `json:"voltage_volts"`
	CurrentAmps      float64   `json:"current_amps"`
	ActivePowerWatts float64   `json:"active_power_watts"`
	ForwardEnergyKWh float64   `json:"forward_energy_kwh"`
	ReverseEnergyKWh float64   `json:"reverse_energy_kwh"`
	Timestamp        time.Time `json:"timestamp"`
}

type DeviceIdentity struct {
	Serial         string
	Role           Role
	CustomName     string
	Position       int
	MaxPower       float64
	DeviceInstance int
	ProductName    string
	ProcessVersion string
	Connection     string
}

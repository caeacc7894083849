package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/core/port"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"
)

const whPerKWh = 1000

// channelValues is a reading reduced to a common, role independent form:
// signs as reported by the meter (positive = consumption), energies in Wh.
type channelValues struct {
	voltage   float64
	current   float64
	power     float64
	forwardWh float64
	reverseWh float64
}

// NormalizeStatus decodes the reading selected by the snapshot and maps it to
// a Measurement. It does no I/O and returns the same result for the same input.
func NormalizeStatus(status *shelly.Status, snapshot domain.MeterSnapshot, fetchedAt time.Time) (*domain.Measurement, error) {
	if status == nil {
		return nil, fmt.Errorf("%w: no status document", shelly.ErrFetch)
	}
	reading, err := status.Reading(snapshot.Generation, snapshot.MeterIndex)
	if err != nil {
		return nil, err
	}
	return Normalize(reading, snapshot.Role, fetchedAt)
}

func Normalize(reading shelly.Reading, role domain.Role, fetchedAt time.Time) (*domain.Measurement, error) {
	values, err := channelValuesOf(reading)
	if err != nil {
		return nil, err
	}
	if values.forwardWh < 0 || values.reverseWh < 0 {
		return nil, fmt.Errorf("%w: %s has negative energy counters (%v Wh, %v Wh)",
			domain.ErrInvalidReading, reading.ChannelName(), values.forwardWh, values.reverseWh)
	}

	m := domain.Measurement{
		VoltageVolts: values.voltage,
		Timestamp:    fetchedAt,
	}
	switch role {
	case domain.RoleGrid:
		m.ActivePowerWatts = values.power
		m.CurrentAmps = values.current
		m.ForwardEnergyKWh = values.forwardWh / whPerKWh
		m.ReverseEnergyKWh = values.reverseWh / whPerKWh
	case domain.RolePVInverter:
		// the CT sees the inverter as a load: its consumption is site generation
		m.ActivePowerWatts = negate(values.power)
		m.CurrentAmps = negate(values.current)
		m.ForwardEnergyKWh = values.reverseWh / whPerKWh
		m.ReverseEnergyKWh = values.forwardWh / whPerKWh
	default:
		return nil, fmt.Errorf("%w: role %q", domain.ErrConfiguration, role)
	}
	return &m, nil
}

func channelValuesOf(reading shelly.Reading) (channelValues, error) {
	switch r := reading.(type) {
	case shelly.GenerationOneReading:
		if r.Voltage <= 0 || isNotFinite(r.Voltage) || isNotFinite(r.Power) {
			return channelValues{}, fmt.Errorf("%w: %s reports voltage %vV, power %vW",
				domain.ErrInvalidReading, r.ChannelName(), r.Voltage, r.Power)
		}
		current := r.Power / r.Voltage
		if isNotFinite(current) {
			return channelValues{}, fmt.Errorf("%w: %s current %vW / %vV is not finite",
				domain.ErrInvalidReading, r.ChannelName(), r.Power, r.Voltage)
		}
		return channelValues{
			voltage:   r.Voltage,
			current:   current,
			power:     r.Power,
			forwardWh: r.Total,
			reverseWh: r.TotalReturned,
		}, nil
	case shelly.GenerationTwoReading:
		if r.Voltage < 0 || isNotFinite(r.Voltage) || isNotFinite(r.APower) || isNotFinite(r.Current) {
			return channelValues{}, fmt.Errorf("%w: %s reports voltage %vV, power %vW, current %vA",
				domain.ErrInvalidReading, r.ChannelName(), r.Voltage, r.APower, r.Current)
		}
		current := r.Current
		// derive the current when the device does not report one, or reports
		// 0 next to a non-zero power
		if r.APower != 0 && (!r.CurrentReported || current == 0) {
			if r.Voltage <= 0 {
				return channelValues{}, fmt.Errorf("%w: %s reports power %vW at %vV without a current",
					domain.ErrInvalidReading, r.ChannelName(), r.APower, r.Voltage)
			}
			current = r.APower / r.Voltage
		}
		reverse := r.ForwardEnergy
		if r.ReverseEnergy != nil {
			reverse = *r.ReverseEnergy
		}
		return channelValues{
			voltage:   r.Voltage,
			current:   signLike(current, r.APower),
			power:     r.APower,
			forwardWh: r.ForwardEnergy,
			reverseWh: reverse,
		}, nil
	default:
		return channelValues{}, fmt.Errorf("%w: unknown reading type %T", shelly.ErrPayloadShape, reading)
	}
}

// signLike returns |magnitude| carrying the sign of reference, and 0 when the
// reference is 0.
func signLike(magnitude, reference float64) float64 {
	switch {
	case reference > 0:
		return math.Abs(magnitude)
	case reference < 0:
		return -math.Abs(magnitude)
	}
	return 0
}

// negate avoids producing -0.
func negate(v float64) float64 {
	if v == 0 {
		return 0
	}
	return -v
}

func isNotFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

type StatusNormalizer struct {
}

func (StatusNormalizer) Normalize(status *shelly.Status, snapshot domain.MeterSnapshot, fetchedAt time.Time) (*domain.Measurement, error) {
	return NormalizeStatus(status, snapshot, fetchedAt)
}

// ensure interface compliance
var _ port.MeasurementNormalizer = StatusNormalizer{}

package service

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioPayload = `{"mac": "AABBCCDDEEFF", "emeters": [{"voltage": 230.0, "power": 460.0, "total": 1000, "total_returned": 200}]}`

var fetchedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, body string) *shelly.Status {
	status, err := shelly.DecodeStatus([]byte(body))
	require.NoError(t, err)
	return status
}

func gen1(role domain.Role) domain.MeterSnapshot {
	return domain.MeterSnapshot{Generation: 1, MeterIndex: 0, Role: role}
}

func TestScenarioGridRole(t *testing.T) {

	require := require.New(t)

	m, err := NormalizeStatus(decode(t, scenarioPayload), gen1(domain.RoleGrid), fetchedAt)
	require.NoError(err)

	require.Equal(230.0, m.VoltageVolts)
	require.Equal(460.0, m.ActivePowerWatts)
	require.Equal(2.0, m.CurrentAmps)
	require.Equal(1.0, m.ForwardEnergyKWh)
	require.Equal(0.2, m.ReverseEnergyKWh)
	require.Equal(fetchedAt, m.Timestamp)
}

func TestScenarioPVInverterRole(t *testing.T) {

	require := require.New(t)

	m, err := NormalizeStatus(decode(t, scenarioPayload), gen1(domain.RolePVInverter), fetchedAt)
	require.NoError(err)

	require.Equal(230.0, m.VoltageVolts)
	require.Equal(-460.0, m.ActivePowerWatts)
	require.Equal(-2.0, m.CurrentAmps)
	require.Equal(0.2, m.ForwardEnergyKWh)
	require.Equal(1.0, m.ReverseEnergyKWh)
}

func TestScenarioGenerationTwoWithoutReturnCounter(t *testing.T) {

	require := require.New(t)

	body := `{"sys": {"mac": "X"}, "switch:0": {"apower": 12, "voltage": 231, "current": 0.06, "aenergy": {"total": 500}}}`
	snapshot := domain.MeterSnapshot{Generation: 2, MeterIndex: 0, Role: domain.RoleGrid}

	m, err := NormalizeStatus(decode(t, body), snapshot, fetchedAt)
	require.NoError(err)
	require.Equal(0.5, m.ForwardEnergyKWh)
	require.Equal(m.ForwardEnergyKWh, m.ReverseEnergyKWh, "reverse reuses the forward counter")

	snapshot.Role = domain.RolePVInverter
	m, err = NormalizeStatus(decode(t, body), snapshot, fetchedAt)
	require.NoError(err)
	require.Equal(m.ForwardEnergyKWh, m.ReverseEnergyKWh)
	require.Equal(-12.0, m.ActivePowerWatts)
	require.Equal(-0.06, m.CurrentAmps)
}

func TestGenerationTwoWithReturnCounter(t *testing.T) {

	require := require.New(t)

	body := `{"sys": {"mac": "X"}, "pm1:0": {"apower": -850.5, "voltage": 229.9, "current": 3.7, "aenergy": {"total": 12000}, "ret_aenergy": {"total": 34000}}}`

	m, err := NormalizeStatus(decode(t, body), domain.MeterSnapshot{Generation: 2, Role: domain.RoleGrid}, fetchedAt)
	require.NoError(err)
	require.Equal(-850.5, m.ActivePowerWatts)
	require.Equal(-3.7, m.CurrentAmps, "current takes the sign of active power")
	require.Equal(12.0, m.ForwardEnergyKWh)
	require.Equal(34.0, m.ReverseEnergyKWh)

	m, err = NormalizeStatus(decode(t, body), domain.MeterSnapshot{Generation: 2, Role: domain.RolePVInverter}, fetchedAt)
	require.NoError(err)
	require.Equal(850.5, m.ActivePowerWatts)
	require.Equal(3.7, m.CurrentAmps)
	require.Equal(34.0, m.ForwardEnergyKWh)
	require.Equal(12.0, m.ReverseEnergyKWh)
}

func TestGenerationOneRoleMapping(t *testing.T) {

	readings := []shelly.GenerationOneReading{
		{Voltage: 230, Power: 460, Total: 1000, TotalReturned: 200},
		{Voltage: 241.3, Power: -1534.2, Total: 98123.4, TotalReturned: 5521},
		{Voltage: 119.7, Power: 0, Total: 0, TotalReturned: 0},
		{Voltage: 0.5, Power: 3, Total: 1, TotalReturned: 1e9},
	}

	for i, r := range readings {
		t.Run(fmt.Sprintf("reading_%d", i), func(t *testing.T) {
			assert := assert.New(t)

			grid, err := Normalize(r, domain.RoleGrid, fetchedAt)
			require.NoError(t, err)
			assert.Equal(r.Total/1000, grid.ForwardEnergyKWh, "grid forward")
			assert.Equal(r.TotalReturned/1000, grid.ReverseEnergyKWh, "grid reverse")
			assert.Equal(r.Power, grid.ActivePowerWatts, "grid power")

			pv, err := Normalize(r, domain.RolePVInverter, fetchedAt)
			require.NoError(t, err)
			assert.Equal(r.TotalReturned/1000, pv.ForwardEnergyKWh, "pv forward")
			assert.Equal(r.Total/1000, pv.ReverseEnergyKWh, "pv reverse")
			assert.Equal(-r.Power, pv.ActivePowerWatts, "pv power")

			for _, m := range []*domain.Measurement{grid, pv} {
				assert.Equal(sign(m.ActivePowerWatts), sign(m.CurrentAmps), "current sign follows power sign")
				assert.GreaterOrEqual(m.ForwardEnergyKWh, 0.0)
				assert.GreaterOrEqual(m.ReverseEnergyKWh, 0.0)
				assert.False(math.Signbit(m.ActivePowerWatts) && m.ActivePowerWatts == 0, "no negative zero")
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {

	status := decode(t, scenarioPayload)

	first, err := NormalizeStatus(status, gen1(domain.RolePVInverter), fetchedAt)
	require.NoError(t, err)
	second, err := NormalizeStatus(status, gen1(domain.RolePVInverter), fetchedAt.Add(time.Minute))
	require.NoError(t, err)

	second.Timestamp = first.Timestamp
	assert.Equal(t, *first, *second)
	assert.Equal(t, math.Float64bits(first.CurrentAmps), math.Float64bits(second.CurrentAmps))
}

func TestZeroVoltageIsInvalidReading(t *testing.T) {

	body := `{"mac": "X", "emeters": [{"voltage": 0, "power": 460.0, "total": 1000, "total_returned": 200}]}`

	m, err := NormalizeStatus(decode(t, body), gen1(domain.RoleGrid), fetchedAt)
	assert.Nil(t, m, "no partial result")
	assert.ErrorIs(t, err, domain.ErrInvalidReading)
	assert.Equal(t, ERROR_KIND_INVALID_READING, ClassifyError(err))
}

func TestNegativeEnergyIsInvalidReading(t *testing.T) {

	_, err := Normalize(shelly.GenerationOneReading{Voltage: 230, Power: 1, Total: -5}, domain.RoleGrid, fetchedAt)
	assert.ErrorIs(t, err, domain.ErrInvalidReading)
}

func TestMissingChannelIsPayloadShapeError(t *testing.T) {

	body := `{"mac": "X", "emeters": [
		{"voltage": 230, "power": 1, "total": 1, "total_returned": 1},
		{"voltage": 230, "power": 1, "total": 1, "total_returned": 1}
	]}`
	snapshot := gen1(domain.RoleGrid)
	snapshot.MeterIndex = 5

	m, err := NormalizeStatus(decode(t, body), snapshot, fetchedAt)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, shelly.ErrMissingChannel)
	assert.Equal(t, ERROR_KIND_PAYLOAD_SHAPE, ClassifyError(err))
}

func TestUnsupportedDeviceShape(t *testing.T) {

	body := `{"sys": {"mac": "X"}, "cover:0": {"apower": 1}}`
	_, err := NormalizeStatus(decode(t, body), domain.MeterSnapshot{Generation: 2, Role: domain.RoleGrid}, fetchedAt)
	assert.ErrorIs(t, err, shelly.ErrUnsupportedDeviceShape)
	assert.Equal(t, ERROR_KIND_PAYLOAD_SHAPE, ClassifyError(err))
}

func TestUnknownRoleIsConfigurationError(t *testing.T) {

	_, err := NormalizeStatus(decode(t, scenarioPayload), gen1(domain.Role("battery")), fetchedAt)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.True(t, ClassifyError(err).Fatal())
}

func TestClassifyFetchError(t *testing.T) {

	_, err := shelly.DecodeStatus(nil)
	kind := ClassifyError(err)
	assert.Equal(t, ERROR_KIND_TRANSIENT_FETCH, kind)
	assert.False(t, kind.Fatal())
	assert.Equal(t, ERROR_KIND_UNKNOWN, ClassifyError(fmt.Errorf("boom")))
	assert.Equal(t, ErrorKind(""), ClassifyError(nil))
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func TestGenerationTwoMissingCurrentIsDerived(t *testing.T) {

	require := require.New(t)

	body := `{"sys": {"mac": "X"}, "switch:0": {"apower": 120, "voltage": 230, "aenergy": {"total": 500}}}`
	snapshot := domain.MeterSnapshot{Generation: 2, MeterIndex: 0, Role: domain.RoleGrid}

	m, err := NormalizeStatus(decode(t, body), snapshot, fetchedAt)
	require.NoError(err)
	require.InDelta(120.0/230.0, m.CurrentAmps, 1e-9)
	require.Equal(sign(m.ActivePowerWatts), sign(m.CurrentAmps))

	snapshot.Role = domain.RolePVInverter
	m, err = NormalizeStatus(decode(t, body), snapshot, fetchedAt)
	require.NoError(err)
	require.Equal(-120.0, m.ActivePowerWatts)
	require.InDelta(-120.0/230.0, m.CurrentAmps, 1e-9)

	// reported as 0 next to a non-zero power
	zero := `{"sys": {"mac": "X"}, "pm1:0": {"apower": -46, "voltage": 230, "current": 0, "aenergy": {"total": 500}}}`
	m, err = NormalizeStatus(decode(t, zero), domain.MeterSnapshot{Generation: 2, Role: domain.RoleGrid}, fetchedAt)
	require.NoError(err)
	require.InDelta(-0.2, m.CurrentAmps, 1e-9)
}

func TestGenerationTwoMissingCurrentWithoutVoltage(t *testing.T) {

	body := `{"sys": {"mac": "X"}, "switch:0": {"apower": 120, "voltage": 0, "aenergy": {"total": 500}}}`
	_, err := NormalizeStatus(decode(t, body), domain.MeterSnapshot{Generation: 2, Role: domain.RoleGrid}, fetchedAt)
	assert.ErrorIs(t, err, domain.ErrInvalidReading)
	assert.Equal(t, ERROR_KIND_INVALID_READING, ClassifyError(err))
}

func TestGenerationTwoIdleChannelWithoutCurrent(t *testing.T) {

	body := `{"sys": {"mac": "X"}, "switch:0": {"apower": 0, "voltage": 0, "aenergy": {"total": 500}}}`
	m, err := NormalizeStatus(decode(t, body), domain.MeterSnapshot{Generation: 2, Role: domain.RolePVInverter}, fetchedAt)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.CurrentAmps)
	assert.Equal(t, 0.0, m.ActivePowerWatts)
	assert.False(t, math.Signbit(m.CurrentAmps))
}

func TestProEnergyMeterChannel(t *testing.T) {

	require := require.New(t)

	snapshot := domain.MeterSnapshot{Generation: 2, MeterIndex: 0, Role: domain.RoleGrid}
	m, err := NormalizeStatus(decode(t, shelly.TestProEnergyMeterStatus), snapshot, fetchedAt)
	require.NoError(err)
	require.Equal(230.2, m.VoltageVolts)
	require.Equal(-480.5, m.ActivePowerWatts)
	require.Equal(-2.1, m.CurrentAmps)
	require.Equal(12.5, m.ForwardEnergyKWh)
	require.Equal(3.25, m.ReverseEnergyKWh)

	snapshot.Role = domain.RolePVInverter
	m, err = NormalizeStatus(decode(t, shelly.TestProEnergyMeterStatus), snapshot, fetchedAt)
	require.NoError(err)
	require.Equal(480.5, m.ActivePowerWatts)
	require.Equal(2.1, m.CurrentAmps)
	require.Equal(3.25, m.ForwardEnergyKWh)
	require.Equal(12.5, m.ReverseEnergyKWh)
}

package events

import (
	"strconv"

	. "github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/core/service"
)

func MeasurementToUpdateEvents(m *Measurement) []any {
	var events []any

	// Aggregate values, single phase meters report the same on L1
	events = append(events, floatEvent(SENSOR_ID_AC_POWER, m.ActivePowerWatts, 2, UNIT_WATT))
	events = append(events, floatEvent(SENSOR_ID_AC_CURRENT, m.CurrentAmps, 2, UNIT_AMPERE))
	events = append(events, floatEvent(SENSOR_ID_AC_ENERGY_FORWARD, m.ForwardEnergyKWh, 3, UNIT_KILOWATTHOUR))
	events = append(events, floatEvent(SENSOR_ID_AC_ENERGY_REVERSE, m.ReverseEnergyKWh, 3, UNIT_KILOWATTHOUR))

	// L1
	events = append(events, floatEvent(SENSOR_ID_AC_L1_VOLTAGE, m.VoltageVolts, 2, UNIT_VOLT))
	events = append(events, floatEvent(SENSOR_ID_AC_L1_CURRENT, m.CurrentAmps, 2, UNIT_AMPERE))
	events = append(events, floatEvent(SENSOR_ID_AC_L1_POWER, m.ActivePowerWatts, 2, UNIT_WATT))
	events = append(events, floatEvent(SENSOR_ID_AC_L1_ENERGY_FORWARD, m.ForwardEnergyKWh, 3, UNIT_KILOWATTHOUR))
	events = append(events, floatEvent(SENSOR_ID_AC_L1_ENERGY_REVERSE, m.ReverseEnergyKWh, 3, UNIT_KILOWATTHOUR))

	return events
}

func IdentityToUpdateEvents(identity DeviceIdentity) []any {
	var events []any

	for _, f := range []struct {
		id    string
		value string
	}{
		{SENSOR_ID_SERIAL, identity.Serial},
		{SENSOR_ID_ROLE, string(identity.Role)},
		{SENSOR_ID_CUSTOM_NAME, identity.CustomName},
		{SENSOR_ID_POSITION, strconv.Itoa(identity.Position)},
		{SENSOR_ID_MAX_POWER, strconv.FormatFloat(identity.MaxPower, 'f', -1, 64)},
		{SENSOR_ID_DEVICE_INSTANCE, strconv.Itoa(identity.DeviceInstance)},
		{SENSOR_ID_PRODUCT_NAME, identity.ProductName},
		{SENSOR_ID_PROCESS_VERSION, identity.ProcessVersion},
		{SENSOR_ID_CONNECTION, identity.Connection},
	} {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: f.id,
			},
			Value: f.value,
		})
	}

	return events
}

func BridgeStateToUpdateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}

func floatEvent(id string, value float64, decimals uint, unit Unit) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    value,
		Decimals: decimals,
		Unit:     unit,
		Text:     service.FormatText(value, unit),
	}
}

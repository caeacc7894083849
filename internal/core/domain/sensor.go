package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE           = "bridge"
	SENSOR_ID_AC_POWER               = "ac_power"
	SENSOR_ID_AC_CURRENT             = "ac_current"
	SENSOR_ID_AC_ENERGY_FORWARD      = "ac_energy_forward"
	SENSOR_ID_AC_ENERGY_REVERSE      = "ac_energy_reverse"
	SENSOR_ID_AC_L1_VOLTAGE          = "ac_l1_voltage"
	SENSOR_ID_AC_L1_CURRENT          = "ac_l1_current"
	SENSOR_ID_AC_L1_POWER            = "ac_l1_power"
	SENSOR_ID_AC_L1_ENERGY_FORWARD   = "ac_l1_energy_forward"
	SENSOR_ID_AC_L1_ENERGY_REVERSE   = "ac_l1_energy_reverse"
	SENSOR_ID_SERIAL                 = "serial"
	SENSOR_ID_ROLE                   = "role"
	SENSOR_ID_CUSTOM_NAME            = "custom_name"
	SENSOR_ID_POSITION               = "position"
	SENSOR_ID_MAX_POWER              = "max_power"
	SENSOR_ID_DEVICE_INSTANCE        = "device_instance"
	SENSOR_ID_PRODUCT_NAME           = "product_name"
	SENSOR_ID_PROCESS_VERSION        = "process_version"
	SENSOR_ID_CONNECTION             = "connection"
	STATE_CLASS_MEASUREMENT          = "measurement"
	STATE_CLASS_TOTAL_INCREASING     = "total_increasing"
	DEVICE_CLASS_CURRENT             = "current"
	DEVICE_CLASS_ENERGY              = "energy"
	DEVICE_CLASS_POWER               = "power"
	DEVICE_CLASS_VOLTAGE             = "voltage"
	DEVICE_CLASS_CONNECTIVITY        = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC          = "diagnostic"
	SENSOR_TYPE_SENSOR               = "sensor"
	SENSOR_TYPE_BINARY               = "binary_sensor"
	DEFAULT_PRODUCT_NAME             = "Shelly EM"
	DEFAULT_CONNECTION_DESCRIPTION   = "Shelly EM HTTP JSON service"
	MANUFACTURER_SHELLY              = "Shelly"
	MANUFACTURER_BRIDGE              = "ACasal"
	MODEL_BRIDGE                     = "Shelly2MQTT"
	DEVICE_ID_PREFIX_BRIDGE          = "shelly2mqtt_bridge"
	DEVICE_ID_PREFIX_METER           = "shelly_meter"
	ICON_TRANSMISSION_TOWER          = "mdi:transmission-tower"
	ICON_SOLAR_POWER                 = "mdi:solar-power"
	ICON_IDENTIFIER                  = "mdi:identifier"
	ICON_INFORMATION                 = "mdi:information-outline"
	UNIT_OF_MEASUREMENT_KILOWATTHOUR = "kWh"
)

func ProcessVersion() string {
	return versioninfo.Short()
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("%s_%s", DEVICE_ID_PREFIX_BRIDGE, md5HashShort(baseTopic)),
		Manufacturer: MANUFACTURER_BRIDGE,
		Model:        MODEL_BRIDGE,
		Version:      ProcessVersion(),
		Name:         fmt.Sprintf("Shelly2MQTT %s", md5HashShort(baseTopic)),
	}
}

func MeterDevice(identity DeviceIdentity) Device {
	name := identity.CustomName
	if name == "" {
		name = fmt.Sprintf("%s %s", identity.ProductName, identity.Serial)
	}
	return Device{
		Id:           fmt.Sprintf("%s_%s", DEVICE_ID_PREFIX_METER, md5HashShort(identity.Serial)),
		Manufacturer: MANUFACTURER_SHELLY,
		Model:        identity.ProductName,
		Name:         name,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func MeterSensors(meterDevice Device, role Role) []GenericSensor {

	icon := ICON_TRANSMISSION_TOWER
	if role == RolePVInverter {
		icon = ICON_SOLAR_POWER
	}

	sensors := []GenericSensor{
		measurementSensor(meterDevice, SENSOR_ID_AC_POWER, "Power", DEVICE_CLASS_POWER, string(UNIT_WATT), icon),
		measurementSensor(meterDevice, SENSOR_ID_AC_CURRENT, "Current", DEVICE_CLASS_CURRENT, string(UNIT_AMPERE), ""),
		energySensor(meterDevice, SENSOR_ID_AC_ENERGY_FORWARD, "Energy forward"),
		energySensor(meterDevice, SENSOR_ID_AC_ENERGY_REVERSE, "Energy reverse"),
		measurementSensor(meterDevice, SENSOR_ID_AC_L1_VOLTAGE, "L1 voltage", DEVICE_CLASS_VOLTAGE, string(UNIT_VOLT), ""),
		measurementSensor(meterDevice, SENSOR_ID_AC_L1_CURRENT, "L1 current", DEVICE_CLASS_CURRENT, string(UNIT_AMPERE), ""),
		measurementSensor(meterDevice, SENSOR_ID_AC_L1_POWER, "L1 power", DEVICE_CLASS_POWER, string(UNIT_WATT), ""),
		energySensor(meterDevice, SENSOR_ID_AC_L1_ENERGY_FORWARD, "L1 energy forward"),
		energySensor(meterDevice, SENSOR_ID_AC_L1_ENERGY_REVERSE, "L1 energy reverse"),
	}

	// per-phase values duplicate the aggregate on single phase meters
	for i := 4; i < len(sensors); i++ {
		sensors[i].EnabledByDefault = optionalBool(false)
	}

	return sensors
}

func IdentitySensors(meterDevice Device) []GenericSensor {

	var sensors []GenericSensor

	for _, s := range []struct {
		id   string
		name string
		icon string
	}{
		{SENSOR_ID_SERIAL, "Serial", ICON_IDENTIFIER},
		{SENSOR_ID_ROLE, "Role", ICON_INFORMATION},
		{SENSOR_ID_CUSTOM_NAME, "Custom name", ICON_INFORMATION},
		{SENSOR_ID_POSITION, "Position", ICON_INFORMATION},
		{SENSOR_ID_MAX_POWER, "Max power", ICON_INFORMATION},
		{SENSOR_ID_DEVICE_INSTANCE, "Device instance", ICON_INFORMATION},
		{SENSOR_ID_PRODUCT_NAME, "Product name", ICON_INFORMATION},
		{SENSOR_ID_PROCESS_VERSION, "Process version", ICON_INFORMATION},
		{SENSOR_ID_CONNECTION, "Connection", ICON_INFORMATION},
	} {
		sensors = append(sensors, GenericSensor{
			Device:         meterDevice,
			Id:             s.id,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           s.name,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			Icon:           s.icon,
			UniqueId:       uniqueId(meterDevice.Id, s.id),
		})
	}

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func measurementSensor(device Device, id, name, deviceClass, unit, icon string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       deviceClass,
		UnitOfMeasurement: unit,
		Icon:              icon,
		UniqueId:          uniqueId(device.Id, id),
	}
}

func energySensor(device Device, id, name string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: UNIT_OF_MEASUREMENT_KILOWATTHOUR,
		UniqueId:          uniqueId(device.Id, id),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}

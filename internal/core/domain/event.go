package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type Unit string

const (
	UNIT_NONE         Unit = ""
	UNIT_VOLT         Unit = "V"
	UNIT_AMPERE       Unit = "A"
	UNIT_WATT         Unit = "W"
	UNIT_KILOWATTHOUR Unit = "KWh"
)

// FloatSensorUpdateEvent carries a numeric field. Text is its human readable
// rendering ("230.0V", "1.00KWh").
type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
	Unit     Unit
	Text     string
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

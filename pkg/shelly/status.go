package shelly

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrFetch covers every failure to obtain a usable status document:
	// network errors, HTTP errors, empty or non-JSON bodies.
	ErrFetch = errors.New("shelly: fetch failed")

	// ErrPayloadShape is returned when a valid JSON document does not have
	// the shape expected for the configured generation.
	ErrPayloadShape           = errors.New("shelly: unexpected payload shape")
	ErrMissingChannel         = fmt.Errorf("%w: missing channel", ErrPayloadShape)
	ErrUnsupportedDeviceShape = fmt.Errorf("%w: unsupported device shape", ErrPayloadShape)

	ErrMissingIdentifier = errors.New("shelly: device identifier not found")
)

// Gen2+ component keys that carry a power metering channel, in lookup order.
// "em1" (Pro EM) keeps its energy counters in a sibling "em1data" component.
var knownChannelPrefixes = []string{"pm1", "switch", "em1"}

const (
	energyMeterPrefix     = "em1"
	energyMeterDataPrefix = "em1data"
)

// Status is a raw status document as returned by the device. Its shape
// depends on the device generation and is only interpreted by Reading and MAC.
type Status struct {
	raw  map[string]json.RawMessage
	body []byte
}

func DecodeStatus(body []byte) (*Status, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrFetch)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %w", ErrFetch, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty JSON document", ErrFetch)
	}
	return &Status{raw: raw, body: trimmed}, nil
}

// Excerpt returns the beginning of the raw document, for diagnostics.
func (s *Status) Excerpt(max int) string {
	if s == nil {
		return ""
	}
	if len(s.body) <= max {
		return string(s.body)
	}
	return string(s.body[:max]) + "..."
}

// MAC returns the device identifier, either from the legacy top-level "mac"
// field (gen 1) or from "sys.mac" (gen 2+).
func (s *Status) MAC() (string, error) {
	var mac string
	if field, ok := s.raw["mac"]; ok {
		if err := json.Unmarshal(field, &mac); err == nil && mac != "" {
			return mac, nil
		}
	}
	if field, ok := s.raw["sys"]; ok {
		var sys struct {
			MAC string `json:"mac"`
		}
		if err := json.Unmarshal(field, &sys); err == nil && sys.MAC != "" {
			return sys.MAC, nil
		}
	}
	return "", ErrMissingIdentifier
}

// Reading decodes the electrical reading of one channel. Generation 1 devices
// are read from emeters[channel], later generations from the first known
// component named "<prefix>:<channel>".
func (s *Status) Reading(generation int, channel int) (Reading, error) {
	if generation <= 1 {
		return s.generationOneReading(channel)
	}
	return s.generationTwoReading(channel)
}

func (s *Status) generationOneReading(index int) (Reading, error) {
	field, ok := s.raw["emeters"]
	if !ok {
		return nil, fmt.Errorf("%w: no emeters array", ErrMissingChannel)
	}
	var emeters []json.RawMessage
	if err := json.Unmarshal(field, &emeters); err != nil {
		return nil, fmt.Errorf("%w: emeters is not an array: %w", ErrPayloadShape, err)
	}
	if index < 0 || index >= len(emeters) {
		return nil, fmt.Errorf("%w: emeters[%d] requested, device has %d", ErrMissingChannel, index, len(emeters))
	}
	var em emeter
	if err := json.Unmarshal(emeters[index], &em); err != nil {
		return nil, fmt.Errorf("%w: emeters[%d]: %w", ErrPayloadShape, index, err)
	}
	if em.Voltage == nil || em.Power == nil || em.Total == nil {
		return nil, fmt.Errorf("%w: emeters[%d] lacks voltage, power or total", ErrPayloadShape, index)
	}
	reading := GenerationOneReading{
		Index:   index,
		Voltage: *em.Voltage,
		Power:   *em.Power,
		Total:   *em.Total,
	}
	if em.TotalReturned != nil {
		reading.TotalReturned = *em.TotalReturned
	}
	return reading, nil
}

func (s *Status) generationTwoReading(index int) (Reading, error) {
	for _, prefix := range knownChannelPrefixes {
		key := fmt.Sprintf("%s:%d", prefix, index)
		field, ok := s.raw[key]
		if !ok {
			continue
		}
		if prefix == energyMeterPrefix {
			return s.energyMeterReading(key, field, index)
		}
		var ch rpcChannel
		if err := json.Unmarshal(field, &ch); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPayloadShape, key, err)
		}
		if ch.Voltage == nil || ch.APower == nil || ch.AEnergy == nil {
			return nil, fmt.Errorf("%w: %s lacks voltage, apower or aenergy", ErrPayloadShape, key)
		}
		reading := GenerationTwoReading{
			Channel:       key,
			Voltage:       *ch.Voltage,
			APower:        *ch.APower,
			ForwardEnergy: ch.AEnergy.Total,
		}
		if ch.Current != nil {
			reading.Current = *ch.Current
			reading.CurrentReported = true
		}
		if ch.RetAEnergy != nil {
			reverse := ch.RetAEnergy.Total
			reading.ReverseEnergy = &reverse
		}
		return reading, nil
	}
	return nil, fmt.Errorf("%w: none of %v present for channel %d", ErrUnsupportedDeviceShape, knownChannelPrefixes, index)
}

func (s *Status) energyMeterReading(key string, field json.RawMessage, index int) (Reading, error) {
	var ch em1Channel
	if err := json.Unmarshal(field, &ch); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPayloadShape, key, err)
	}
	if ch.Voltage == nil || ch.ActPower == nil {
		return nil, fmt.Errorf("%w: %s lacks voltage or act_power", ErrPayloadShape, key)
	}
	dataKey := fmt.Sprintf("%s:%d", energyMeterDataPrefix, index)
	dataField, ok := s.raw[dataKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s present without %s", ErrMissingChannel, key, dataKey)
	}
	var data em1DataChannel
	if err := json.Unmarshal(dataField, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPayloadShape, dataKey, err)
	}
	if data.TotalActEnergy == nil {
		return nil, fmt.Errorf("%w: %s lacks total_act_energy", ErrPayloadShape, dataKey)
	}
	reading := GenerationTwoReading{
		Channel:       key,
		Voltage:       *ch.Voltage,
		APower:        *ch.ActPower,
		ForwardEnergy: *data.TotalActEnergy,
		ReverseEnergy: data.TotalActRetEnergy,
	}
	if ch.Current != nil {
		reading.Current = *ch.Current
		reading.CurrentReported = true
	}
	return reading, nil
}

type emeter struct {
	Power         *float64 `json:"power"`
	Voltage       *float64 `json:"voltage"`
	Total         *float64 `json:"total"`
	TotalReturned *float64 `json:"total_returned"`
	IsValid       *bool    `json:"is_valid"`
}

type rpcChannel struct {
	Id         int             `json:"id"`
	APower     *float64        `json:"apower"`
	Voltage    *float64        `json:"voltage"`
	Current    *float64        `json:"current"`
	AEnergy    *rpcEnergyStats `json:"aenergy"`
	RetAEnergy *rpcEnergyStats `json:"ret_aenergy"`
}

type em1Channel struct {
	Id       int      `json:"id"`
	Current  *float64 `json:"current"`
	Voltage  *float64 `json:"voltage"`
	ActPower *float64 `json:"act_power"`
}

type em1DataChannel struct {
	Id                int      `json:"id"`
	TotalActEnergy    *float64 `json:"total_act_energy"`
	TotalActRetEnergy *float64 `json:"total_act_ret_energy"`
}

type rpcEnergyStats struct {
	Total    float64   `json:"total"`
	ByMinute []float64 `json:"by_minute"`
	MinuteTs int64     `json:"minute_ts"`
}

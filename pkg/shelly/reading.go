package shelly

import "strconv"

// Reading is one of GenerationOneReading or GenerationTwoReading.
type Reading interface {
	Generation() int
	ChannelName() string
	isReading()
}

// GenerationOneReading is an entry of the legacy "emeters" array.
// Energy counters are in Wh.
type GenerationOneReading struct {
	Index         int
	Voltage       float64
	Power         float64
	Total         float64
	TotalReturned float64
}

// GenerationTwoReading is an RPC component ("pm1:0", "switch:0", "em1:0").
// ReverseEnergy is nil when the device has no separate return counter.
// CurrentReported is false when the component has no "current" field.
// Energy counters are in Wh.
type GenerationTwoReading struct {
	Channel         string
	Voltage         float64
	Current         float64
	CurrentReported bool
	APower          float64
	ForwardEnergy   float64
	ReverseEnergy   *float64
}

func (GenerationOneReading) Generation() int { return 1 }

func (r GenerationOneReading) ChannelName() string {
	return "emeters[" + strconv.Itoa(r.Index) + "]"
}

func (GenerationOneReading) isReading() {}

func (GenerationTwoReading) Generation() int { return 2 }

func (r GenerationTwoReading) ChannelName() string { return r.Channel }

func (GenerationTwoReading) isReading() {}

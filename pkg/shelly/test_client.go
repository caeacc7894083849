package shelly

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TestGenerationOneStatus = `{
		"wifi_sta": {"connected": true, "ssid": "lab", "ip": "192.168.1.50", "rssi": -60},
		"mac": "C45BBE6B2A1F",
		"emeters": [
			{"power": 460.0, "reactive": 0, "voltage": 230.0, "is_valid": true, "total": 1000, "total_returned": 200},
			{"power": -120.5, "reactive": 0, "voltage": 229.1, "is_valid": true, "total": 5200.5, "total_returned": 830}
		]
	}`
	TestGenerationTwoStatus = `{
		"sys": {"mac": "A8032ABE54DC", "uptime": 3600},
		"switch:0": {
			"id": 0, "source": "init", "output": true,
			"apower": 8.9, "voltage": 237.5, "current": 0.068,
			"aenergy": {"total": 500, "by_minute": [0, 0, 0], "minute_ts": 1700000000}
		}
	}`
	TestProEnergyMeterStatus = `{
		"sys": {"mac": "EC62609A1B2C"},
		"em1:0": {"id": 0, "current": 2.1, "voltage": 230.2, "act_power": -480.5, "aprt_power": 490, "pf": 0.98, "freq": 50},
		"em1data:0": {"id": 0, "total_act_energy": 12500, "total_act_ret_energy": 3250}
	}`
)

// TestMeterClient serves a fixed status document. Delay simulates a slow
// device; InFlight/MaxInFlight track overlapping calls.
type TestMeterClient struct {
	Body  string
	Err   error
	Delay time.Duration

	mu          sync.Mutex
	calls       int
	inFlight    int32
	maxInFlight int32
}

func CreateTestMeterClient() (Client, error) {
	return &TestMeterClient{Body: TestGenerationOneStatus}, nil
}

func (c *TestMeterClient) GetStatus(ctx context.Context) (*Status, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	c.mu.Lock()
	c.calls++
	if n > c.maxInFlight {
		c.maxInFlight = n
	}
	c.mu.Unlock()

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return DecodeStatus([]byte(c.Body))
}

func (c *TestMeterClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *TestMeterClient) MaxInFlight() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

// ensure interface compliance
var _ Client = (*TestMeterClient)(nil)

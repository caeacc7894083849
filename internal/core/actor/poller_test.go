package actor

import (
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/shelly2mqtt/internal/adapter/actor"
	"github.com/berfenger/shelly2mqtt/internal/config"
	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/metrics"
	"github.com/berfenger/shelly2mqtt/internal/util"
	"github.com/berfenger/shelly2mqtt/internal/util/actorutil"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/reugn/go-quartz/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type eventSink struct {
	mu     sync.Mutex
	events []domain.FloatSensorUpdateEvent
}

func (s *eventSink) receive(evt any) {
	if fe, ok := evt.(domain.FloatSensorUpdateEvent); ok {
		s.mu.Lock()
		s.events = append(s.events, fe)
		s.mu.Unlock()
	}
}

func (s *eventSink) all() []domain.FloatSensorUpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FloatSensorUpdateEvent(nil), s.events...)
}

func (s *eventSink) last(id string) (domain.FloatSensorUpdateEvent, bool) {
	events := s.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].SensorId() == id {
			return events[i], true
		}
	}
	return domain.FloatSensorUpdateEvent{}, false
}

func spawnPoller(t *testing.T, cfg config.Config, client shelly.Client) (*actor.ActorSystem, *actor.PID, *eventSink) {
	as, pid, sink, _ := spawnPollerWithLogger(t, cfg, client, zap.Must(zap.NewDevelopment()))
	return as, pid, sink
}

func spawnPollerWithLogger(t *testing.T, cfg config.Config, client shelly.Client, logger *zap.Logger) (*actor.ActorSystem, *actor.PID, *eventSink, *PollerActor) {
	as := actorutil.NewActorSystemWithZapLogger(logger)

	meterPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(client, cfg.MonitorConfig.RequestTimeout(), logger)
	}))

	es := &eventstream.EventStream{}
	sink := &eventSink{}
	sub := es.Subscribe(sink.receive)

	poller := NewPollerActor(&cfg, meterPID, es, logger)
	pollerPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return poller
	}))

	t.Cleanup(func() {
		es.Unsubscribe(sub)
		as.Root.Stop(pollerPID)
		as.Root.Stop(meterPID)
		as.Shutdown()
	})
	return as, pollerPID, sink, poller
}

func healthCheck(t *testing.T, as *actor.ActorSystem, pid *actor.PID) domain.ActorHealthResponse {
	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	return resp
}

func lastMeasurement(t *testing.T, as *actor.ActorSystem, pid *actor.PID) *domain.Measurement {
	res, err := as.Root.RequestFuture(pid, domain.GetLastMeasurementRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.GetLastMeasurementResponse)
	require.True(t, ok)
	return resp.Measurement
}

func TestPollerPublishesMeasurement(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	as, pid, sink := spawnPoller(t, cfg, &shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus})

	assert.Eventually(func() bool {
		_, ok := sink.last(domain.SENSOR_ID_AC_ENERGY_REVERSE)
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	power, ok := sink.last(domain.SENSOR_ID_AC_POWER)
	assert.True(ok)
	assert.Equal(460.0, power.Value)
	assert.Equal("460.0W", power.Text)
	forward, _ := sink.last(domain.SENSOR_ID_AC_ENERGY_FORWARD)
	assert.Equal(1.0, forward.Value)
	reverse, _ := sink.last(domain.SENSOR_ID_AC_ENERGY_REVERSE)
	assert.Equal(0.2, reverse.Value)

	m := lastMeasurement(t, as, pid)
	require.NotNil(t, m)
	assert.Equal(230.0, m.VoltageVolts)
	assert.Equal(2.0, m.CurrentAmps)
	assert.False(m.Timestamp.IsZero())

	health := healthCheck(t, as, pid)
	assert.True(health.Healthy)
	assert.Equal(domain.ACTOR_ID_POLLER, health.Id)
}

func TestPollerSkipsTicksWhileFetching(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.PollIntervalMillis = 100
	cfg.MonitorConfig.RequestTimeoutMillis = 2000
	client := &shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus, Delay: 600 * time.Millisecond}

	skippedBefore := testutil.ToFloat64(metrics.PollSkipped)

	as, pid, sink := spawnPoller(t, cfg, client)

	assert.Eventually(func() bool {
		return len(sink.all()) >= 9 && client.Calls() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(int32(1), client.MaxInFlight(), "fetches never overlap")
	assert.Greater(testutil.ToFloat64(metrics.PollSkipped), skippedBefore)

	// a health request during a fetch is still answered
	health := healthCheck(t, as, pid)
	assert.True(health.Healthy)
}

func TestPollerInvalidReadingPublishesNothing(t *testing.T) {

	assert := assert.New(t)

	body := `{"mac": "C45BBE6B2A1F", "emeters": [
		{"power": 0, "reactive": 0, "voltage": 0, "is_valid": true, "total": 1000, "total_returned": 200}
	]}`
	cfg := util.LoadTestConfig()
	client := &shelly.TestMeterClient{Body: body}
	as, pid, sink := spawnPoller(t, cfg, client)

	assert.Eventually(func() bool {
		return client.Calls() >= 2
	}, 3*time.Second, 50*time.Millisecond)

	assert.Empty(sink.all())
	assert.Nil(lastMeasurement(t, as, pid))
	assert.True(healthCheck(t, as, pid).Healthy, "a few bad readings keep the loop alive")
}

func TestPollerReportsUnhealthyAfterRepeatedFailures(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.PollIntervalMillis = 50
	cfg.MonitorConfig.RequestTimeoutMillis = 40
	client := &shelly.TestMeterClient{Body: "{}"}
	as, pid, _ := spawnPoller(t, cfg, client)

	assert.Eventually(t, func() bool {
		return !healthCheck(t, as, pid).Healthy
	}, 5*time.Second, 100*time.Millisecond)
}

func TestPollerReload(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	as, pid, sink := spawnPoller(t, cfg, &shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus})

	assert.Eventually(func() bool {
		_, ok := sink.last(domain.SENSOR_ID_AC_POWER)
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	res, err := as.Root.RequestFuture(pid, domain.ReloadMeterConfigRequest{
		Snapshot: domain.MeterSnapshot{Generation: 1, MeterIndex: 0, Role: domain.RolePVInverter},
	}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := res.(domain.ReloadMeterConfigResponse)
	assert.False(resp.HasResponseError())
	assert.True(resp.Changed)

	assert.Eventually(func() bool {
		m := lastMeasurement(t, as, pid)
		return m != nil && m.ActivePowerWatts == -460
	}, 3*time.Second, 50*time.Millisecond)

	m := lastMeasurement(t, as, pid)
	assert.Equal(-2.0, m.CurrentAmps)
	assert.Equal(0.2, m.ForwardEnergyKWh)
	assert.Equal(1.0, m.ReverseEnergyKWh)

	// same settings again
	res, err = as.Root.RequestFuture(pid, domain.ReloadMeterConfigRequest{
		Snapshot: domain.MeterSnapshot{Generation: 1, MeterIndex: 0, Role: domain.RolePVInverter},
	}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.False(res.(domain.ReloadMeterConfigResponse).Changed)

	res, err = as.Root.RequestFuture(pid, domain.ReloadMeterConfigRequest{
		Snapshot: domain.MeterSnapshot{Generation: 1, MeterIndex: 0, Role: "battery"},
	}, 5*time.Second).Result()
	require.NoError(t, err)
	resp = res.(domain.ReloadMeterConfigResponse)
	assert.True(resp.HasResponseError())
	assert.ErrorIs(resp.GetResponseError(), domain.ErrConfiguration)
}

func TestPollerHeartbeat(t *testing.T) {

	assert := assert.New(t)

	core, logs := observer.New(zap.InfoLevel)
	cfg := util.LoadTestConfig()
	// only the initial tick runs during the test
	cfg.MonitorConfig.PollIntervalMillis = 60000
	cfg.MonitorConfig.RequestTimeoutMillis = 3000
	client := &shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus, Delay: 800 * time.Millisecond}
	as, pid, sink, _ := spawnPollerWithLogger(t, cfg, client, zap.New(core))

	heartbeats := func() []observer.LoggedEntry {
		return logs.FilterMessage("poller sign of life").All()
	}

	require.Eventually(t, func() bool {
		return client.Calls() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// while fetching
	as.Root.Send(pid, heartbeatTick{})
	require.Eventually(t, func() bool {
		return len(heartbeats()) == 1
	}, time.Second, 10*time.Millisecond)
	entry := heartbeats()[0]
	assert.Equal("fetching", entry.ContextMap()["state"])
	assert.NotContains(entry.ContextMap(), "last_power")
	assert.Equal("fetching", healthCheck(t, as, pid).State)

	assert.Eventually(func() bool {
		_, ok := sink.last(domain.SENSOR_ID_AC_POWER)
		return ok
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal("idle", healthCheck(t, as, pid).State)
	assert.Len(heartbeats(), 1, "nothing replayed after the cycle")

	// idle
	as.Root.Send(pid, heartbeatTick{})
	require.Eventually(t, func() bool {
		return len(heartbeats()) == 2
	}, time.Second, 10*time.Millisecond)
	entry = heartbeats()[1]
	assert.Equal("idle", entry.ContextMap()["state"])
	assert.Equal(460.0, entry.ContextMap()["last_power"])

	assert.Equal("idle", healthCheck(t, as, pid).State)
	assert.Equal(1, client.Calls(), "a heartbeat never starts a cycle")
}

func TestPollerSchedulesHeartbeat(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.SignOfLifeMinutes = 1
	as, pid, _, poller := spawnPollerWithLogger(t, cfg,
		&shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus}, zap.NewNop())

	// answered after Started has run
	healthCheck(t, as, pid)

	require.NotNil(t, poller.heartbeat)
	assert.True(poller.heartbeat.IsStarted())
	scheduled, err := poller.heartbeat.GetScheduledJob(quartz.NewJobKey(HEARTBEAT_JOB_KEY))
	require.NoError(t, err)
	assert.Equal(quartz.NewSimpleTrigger(time.Minute).Description(), scheduled.Trigger().Description())
}

func TestPollerWithoutHeartbeat(t *testing.T) {

	cfg := util.LoadTestConfig()
	as, pid, _, poller := spawnPollerWithLogger(t, cfg,
		&shelly.TestMeterClient{Body: shelly.TestGenerationOneStatus}, zap.NewNop())

	healthCheck(t, as, pid)
	assert.Nil(t, poller.heartbeat)
}

package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/config"
	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/core/events"
	"github.com/berfenger/shelly2mqtt/internal/core/port"
	"github.com/berfenger/shelly2mqtt/internal/core/service"
	"github.com/berfenger/shelly2mqtt/internal/metrics"
	. "github.com/berfenger/shelly2mqtt/internal/util/actorutil"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	MAX_CONSECUTIVE_FAILURES = 10
	PAYLOAD_EXCERPT_BYTES    = 256
	FETCH_REPLY_MARGIN       = 500 * time.Millisecond
	HEARTBEAT_JOB_KEY        = "poller_heartbeat"
)

// PollerActor runs one poll cycle per tick: fetch through the meter actor,
// normalize, publish on the event stream. A tick arriving while a cycle is
// still fetching is dropped.
type PollerActor struct {
	ActorWithStates
	stash      *Stash
	timers     *scheduler.TimerScheduler
	cancelPoll scheduler.CancelFunc
	heartbeat  quartz.Scheduler
	cancelHB   context.CancelFunc

	meterActor     *actor.PID
	eventStream    *eventstream.EventStream
	normalizer     port.MeasurementNormalizer
	snapshot       domain.MeterSnapshot
	pollInterval   time.Duration
	requestTimeout time.Duration
	signOfLife     time.Duration

	last                *domain.Measurement
	lastSuccess         time.Time
	consecutiveFailures int

	logger *zap.Logger
}

type pollTick struct {
}

type heartbeatTick struct {
}

func NewPollerActor(config *config.Config, meterActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		stash:          &Stash{},
		meterActor:     meterActor,
		eventStream:    eventStream,
		normalizer:     service.StatusNormalizer{},
		snapshot:       config.MeterSnapshot(),
		pollInterval:   config.MonitorConfig.PollInterval(),
		requestTimeout: config.MonitorConfig.RequestTimeout(),
		signOfLife:     config.MonitorConfig.SignOfLife(),
		logger:         ActorLogger(domain.ACTOR_ID_POLLER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PollerIdleState{
		actor: act,
	})
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Idle state

type PollerIdleState struct {
	ActorState
	actor *PollerActor
}

func (state PollerIdleState) Name() string {
	return "idle"
}

func (state PollerIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("poller@idle started")
		state.actor.start(ctx)
	case pollTick:
		state.actor.logger.Debug("poller@idle tick")
		// the cycle works on a copy, a reload does not affect it
		snapshot := state.actor.snapshot
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.meterActor, domain.FetchStatusRequest{},
			state.actor.requestTimeout+FETCH_REPLY_MARGIN), func(err error) any {
			return domain.FetchStatusResponse{
				ActorResponseMixIn: domain.ErrorResponse(fmt.Errorf("%w: meter actor did not reply: %w", shelly.ErrFetch, err)),
			}
		})
		state.actor.BecomeStacked(PollerFetchingState{
			actor:    state.actor,
			snapshot: snapshot,
			since:    time.Now(),
		})
	case domain.FetchStatusResponse:
		state.actor.logger.Debug("poller@idle late FetchStatusResponse dropped")
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		if !state.actor.receiveShared(ctx) {
			state.actor.logger.Debug("poller@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// Fetching state

type PollerFetchingState struct {
	ActorState
	actor    *PollerActor
	snapshot domain.MeterSnapshot
	since    time.Time
}

func (state PollerFetchingState) Name() string {
	return "fetching"
}

func (state PollerFetchingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollTick:
		state.actor.logger.Debug("poller@fetching tick skipped, previous cycle still running",
			zap.Duration("running", time.Since(state.since)))
		metrics.PollSkipped.Inc()
	case domain.FetchStatusResponse:
		state.actor.logger.Debug("poller@fetching FetchStatusResponse")
		state.actor.completeCycle(msg, state.snapshot)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		if !state.actor.receiveShared(ctx) {
			state.actor.logger.Debug("poller@fetching stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.actor.stash.Stash(ctx, msg)
		}
	}
}

// receiveShared handles the messages served in every state.
func (state *PollerActor) receiveShared(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case heartbeatTick:
		state.logHeartbeat()
	case domain.ActorHealthRequest:
		state.logger.Debug(fmt.Sprintf("poller@%s ActorHealthRequest", state.StateName()))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: state.consecutiveFailures < MAX_CONSECUTIVE_FAILURES,
			State:   state.StateName(),
		})
	case domain.GetLastMeasurementRequest:
		var last *domain.Measurement
		if state.last != nil {
			m := *state.last
			last = &m
		}
		ForRequest(msg).Respond(ctx, domain.GetLastMeasurementResponse{
			Measurement: last,
		})
	case domain.ReloadMeterConfigRequest:
		ForRequest(msg).Respond(ctx, state.reload(msg.Snapshot))
	default:
		return false
	}
	return true
}

func (state *PollerActor) start(ctx actor.Context) {
	state.timers = scheduler.NewTimerScheduler(ctx)
	// first cycle right away, then on every interval
	ctx.Send(ctx.Self(), pollTick{})
	state.cancelPoll = state.timers.SendRepeatedly(state.pollInterval, state.pollInterval, ctx.Self(), pollTick{})

	if err := state.startHeartbeat(ctx); err != nil {
		state.logger.Error("poller@idle could not schedule heartbeat", zap.Error(err))
	}
}

func (state *PollerActor) startHeartbeat(ctx actor.Context) error {
	if state.signOfLife <= 0 {
		return nil
	}
	sched := quartz.NewStdScheduler()
	hbCtx, cancel := context.WithCancel(context.Background())
	sched.Start(hbCtx)

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	heartbeat := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(self, heartbeatTick{})
		return true, nil
	})
	err := sched.ScheduleJob(quartz.NewJobDetail(heartbeat, quartz.NewJobKey(HEARTBEAT_JOB_KEY)),
		quartz.NewSimpleTrigger(state.signOfLife))
	if err != nil {
		cancel()
		return err
	}
	state.heartbeat = sched
	state.cancelHB = cancel
	return nil
}

func (state *PollerActor) stop() {
	if state.cancelPoll != nil {
		state.cancelPoll()
		state.cancelPoll = nil
	}
	if state.heartbeat != nil {
		state.heartbeat.Stop()
		state.cancelHB()
		state.heartbeat = nil
	}
}

func (state *PollerActor) completeCycle(resp domain.FetchStatusResponse, snapshot domain.MeterSnapshot) {
	if resp.HasResponseError() {
		state.cycleFailed(resp.GetResponseError(), resp.Status)
		return
	}
	m, err := state.normalizer.Normalize(resp.Status, snapshot, resp.FetchedAt)
	if err != nil {
		state.cycleFailed(err, resp.Status)
		return
	}

	for _, ev := range events.MeasurementToUpdateEvents(m) {
		state.eventStream.Publish(ev)
	}

	state.last = m
	state.lastSuccess = m.Timestamp
	state.consecutiveFailures = 0
	metrics.PollResults.WithLabelValues(metrics.POLL_RESULT_OK).Inc()
	metrics.ActivePower.Set(m.ActivePowerWatts)
	metrics.LastSuccess.Set(float64(m.Timestamp.Unix()))

	state.logger.Debug("poller@fetching published",
		zap.Float64("consumption", m.ActivePowerWatts),
		zap.Float64("forward", m.ForwardEnergyKWh),
		zap.Float64("reverse", m.ReverseEnergyKWh))
}

func (state *PollerActor) cycleFailed(err error, status *shelly.Status) {
	kind := service.ClassifyError(err)
	state.consecutiveFailures++
	metrics.PollResults.WithLabelValues(string(kind)).Inc()

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Int("consecutive_failures", state.consecutiveFailures),
		zap.Error(err),
	}
	if status != nil {
		fields = append(fields, zap.String("payload", status.Excerpt(PAYLOAD_EXCERPT_BYTES)))
	}
	if ce := state.logger.Check(kind.LogLevel(), "poller@fetching poll cycle failed"); ce != nil {
		ce.Write(fields...)
	}
}

func (state *PollerActor) logHeartbeat() {
	fields := []zap.Field{
		zap.String("state", state.StateName()),
		zap.Int("consecutive_failures", state.consecutiveFailures),
	}
	if state.last != nil {
		fields = append(fields,
			zap.Time("last_success", state.lastSuccess),
			zap.Float64("last_power", state.last.ActivePowerWatts))
	}
	state.logger.Info("poller sign of life", fields...)
}

func (state *PollerActor) reload(snapshot domain.MeterSnapshot) domain.ReloadMeterConfigResponse {
	if _, err := domain.ParseRole(string(snapshot.Role)); err != nil {
		return domain.ReloadMeterConfigResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
	}
	if snapshot.MeterIndex < 0 {
		return domain.ReloadMeterConfigResponse{ActorResponseMixIn: domain.ErrorResponse(
			fmt.Errorf("%w: meter index %d is negative", domain.ErrConfiguration, snapshot.MeterIndex))}
	}
	if snapshot.Generation != state.snapshot.Generation {
		state.logger.Warn("poller reload: meter generation change requires a restart",
			zap.Int("current", state.snapshot.Generation), zap.Int("requested", snapshot.Generation))
		snapshot.Generation = state.snapshot.Generation
	}
	if snapshot == state.snapshot {
		return domain.ReloadMeterConfigResponse{}
	}
	state.logger.Info("poller reload: meter settings changed",
		zap.String("role", string(snapshot.Role)), zap.Int("meter_index", snapshot.MeterIndex))
	state.snapshot = snapshot
	return domain.ReloadMeterConfigResponse{Changed: true}
}

package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/util/actorutil"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// extra time granted to the background task over the HTTP timeout
const TASK_TIMEOUT_MARGIN = 100 * time.Millisecond

// MeterActor owns the meter client. Requests are served one at a time, the
// rest wait in the stash.
type MeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   shelly.Client
	timeout  time.Duration
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewMeterActor(client shelly.Client, timeout time.Duration, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		client:   client,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@default started")
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "idle",
		})
	case domain.FetchStatusRequest:
		state.logger.Debug("meter@default FetchStatusRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.fetchStatus),
			mapTaskResult[domain.FetchStatusResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.FetchStatusResponse{
					ActorResponseMixIn: domain.ErrorResponse(asFetchError(err)),
				},
				replyTo: sender,
			}
		}).WithTimeout(state.timeout + TASK_TIMEOUT_MARGIN).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("meter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) fetchStatus() (*domain.FetchStatusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	status, err := state.client.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.FetchStatusResponse{
		Status:    status,
		FetchedAt: time.Now(),
	}, nil
}

// asFetchError keeps classified errors as they are and turns everything else
// (timeouts, cancellations, panics in the task) into a fetch error.
func asFetchError(err error) error {
	if errors.Is(err, shelly.ErrFetch) || errors.Is(err, shelly.ErrPayloadShape) {
		return err
	}
	return fmt.Errorf("%w: %w", shelly.ErrFetch, err)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}

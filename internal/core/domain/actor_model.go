package domain

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type ActorRef actor.PID

type ActorRequest interface {
	ReplyTo() *ActorRef
}

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorResponseMixIn struct {
	ResponseError error
}

func ErrorResponse(err error) ActorResponseMixIn {
	return ActorResponseMixIn{ResponseError: err}
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type FetchStatusRequest struct {
	ActorRequestMixIn
}

type FetchStatusResponse struct {
	ActorResponseMixIn
	Status    *shelly.Status
	FetchedAt time.Time
}

type GetLastMeasurementRequest struct {
	ActorRequestMixIn
}

type GetLastMeasurementResponse struct {
	ActorResponseMixIn
	Measurement *Measurement
}

type ReloadMeterConfigRequest struct {
	ActorRequestMixIn
	Snapshot MeterSnapshot
}

type ReloadMeterConfigResponse struct {
	ActorResponseMixIn
	Changed bool
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishIdentityRequest struct {
	ActorRequestMixIn
	Identity DeviceIdentity
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

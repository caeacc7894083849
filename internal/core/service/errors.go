package service

import (
	"errors"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"
	"go.uber.org/zap/zapcore"
)

type ErrorKind string

const (
	ERROR_KIND_CONFIGURATION       ErrorKind = "configuration"
	ERROR_KIND_IDENTITY_RESOLUTION ErrorKind = "identity_resolution"
	ERROR_KIND_TRANSIENT_FETCH     ErrorKind = "transient_fetch"
	ERROR_KIND_PAYLOAD_SHAPE       ErrorKind = "payload_shape"
	ERROR_KIND_INVALID_READING     ErrorKind = "invalid_reading"
	ERROR_KIND_UNKNOWN             ErrorKind = "unknown"
)

func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrConfiguration):
		return ERROR_KIND_CONFIGURATION
	case errors.Is(err, domain.ErrIdentityResolution):
		return ERROR_KIND_IDENTITY_RESOLUTION
	case errors.Is(err, shelly.ErrPayloadShape):
		return ERROR_KIND_PAYLOAD_SHAPE
	case errors.Is(err, domain.ErrInvalidReading):
		return ERROR_KIND_INVALID_READING
	case errors.Is(err, shelly.ErrFetch):
		return ERROR_KIND_TRANSIENT_FETCH
	}
	return ERROR_KIND_UNKNOWN
}

// Fatal reports whether the error kind must stop the process.
func (k ErrorKind) Fatal() bool {
	return k == ERROR_KIND_CONFIGURATION || k == ERROR_KIND_IDENTITY_RESOLUTION
}

// LogLevel is the severity a per-cycle error of this kind is logged with.
func (k ErrorKind) LogLevel() zapcore.Level {
	if k == ERROR_KIND_INVALID_READING {
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

package port

import (
	"time"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"
)

type MeasurementNormalizer interface {
	Normalize(status *shelly.Status, snapshot domain.MeterSnapshot, fetchedAt time.Time) (*domain.Measurement, error)
}

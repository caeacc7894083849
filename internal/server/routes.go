package server

import (
	"net/http"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/measurement", s.LastMeasurementHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, HEALTH_TIMEOUT).Result()
	if err != nil {
		s.logger.Warn("health check: no answer from master", zap.Error(err))
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// LastMeasurementHandler returns the last published measurement as JSON,
// or 204 until the first poll cycle succeeds.
func (s *Server) LastMeasurementHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetLastMeasurementRequest{}, s.queryTimeout).Result()
	if err != nil {
		s.logger.Warn("measurement: no answer from master", zap.Error(err))
		return c.String(http.StatusServiceUnavailable, "measurement: unavailable")
	}
	response, ok := res.(domain.GetLastMeasurementResponse)
	if !ok || response.HasResponseError() {
		return c.String(http.StatusServiceUnavailable, "measurement: unavailable")
	}
	if response.Measurement == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, response.Measurement)
}

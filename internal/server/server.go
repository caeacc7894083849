package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/shelly2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

const HEALTH_TIMEOUT = 10 * time.Second

// Server answers HTTP requests by asking the master actor.
type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	// measurement requests wait one poll interval, at least a second
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, logger *zap.Logger) *http.Server {
	s := &Server{
		port:         cfg.Port,
		httpLog:      cfg.HttpLog,
		rootContext:  rootContext,
		masterActor:  masterActor,
		queryTimeout: max(cfg.MonitorConfig.PollInterval(), time.Second),
		logger:       logger.With(zap.String("component", "http")),
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

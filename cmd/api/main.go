package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/shelly2mqtt/internal/adapter/actor"
	"github.com/berfenger/shelly2mqtt/internal/config"
	"github.com/berfenger/shelly2mqtt/internal/core/actor"
	"github.com/berfenger/shelly2mqtt/internal/core/domain"
	"github.com/berfenger/shelly2mqtt/internal/metrics"
	"github.com/berfenger/shelly2mqtt/internal/server"
	"github.com/berfenger/shelly2mqtt/internal/util/actorutil"
	"github.com/berfenger/shelly2mqtt/pkg/shelly"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const IDENTITY_TIMEOUT = 10 * time.Second

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	initConfig()
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	logger := buildLogger(cfg)
	defer logger.Sync()

	// the meter serial is resolved once, before anything is published
	client, err := meterClient(cfg, logger)
	if err != nil {
		logger.Error("meter client", zap.Error(err))
		os.Exit(1)
	}
	identity, err := resolveIdentity(cfg, client)
	if err != nil {
		logger.Error("could not resolve meter identity", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("meter identity resolved", zap.String("serial", identity.Serial), zap.String("role", string(identity.Role)))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, identity, meterActorProvider(cfg, client, logger),
			mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		os.Exit(1)
	}

	go reloadOnHangup(cfg, ctx, pid, logger)

	server := server.NewServer(*cfg, ctx, pid, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() {

	// alias PORT => SHELLY2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SHELLY2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("shelly2mqtt")
	// meter.host => SHELLY2MQTT_METER_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)
		}
	}
}

// readConfig (re)reads the config file, if any, and validates the result.
func readConfig() (*config.Config, error) {

	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func buildLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	if cfg.LogFile == "" {
		return zap.Must(zapCfg.Build())
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapCfg.EncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxAge:     cfg.LogMaxAge,
			MaxBackups: cfg.LogMaxBackups,
		}),
		zapCfg.Level,
	)
	return zap.Must(zapCfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})))
}

func meterClient(cfg *config.Config, logger *zap.Logger) (shelly.Client, error) {
	return shelly.CreateHTTPClient(cfg.Meter.Host, cfg.Meter.Username, cfg.Meter.Password,
		cfg.Meter.Generation, cfg.MonitorConfig.RequestTimeout(), logger, metrics.MeterInstrument())
}

func resolveIdentity(cfg *config.Config, client shelly.Client) (domain.DeviceIdentity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), IDENTITY_TIMEOUT)
	defer cancel()

	status, err := client.GetStatus(ctx)
	if err != nil {
		return domain.DeviceIdentity{}, fmt.Errorf("%w: %w", domain.ErrIdentityResolution, err)
	}
	serial, err := status.MAC()
	if err != nil {
		return domain.DeviceIdentity{}, fmt.Errorf("%w: %w", domain.ErrIdentityResolution, err)
	}

	return domain.DeviceIdentity{
		Serial:         serial,
		Role:           domain.Role(cfg.Meter.Role),
		CustomName:     cfg.Device.CustomName,
		Position:       cfg.Device.Position,
		MaxPower:       cfg.Device.MaxPower,
		DeviceInstance: cfg.Device.Instance,
		ProductName:    domain.DEFAULT_PRODUCT_NAME,
		ProcessVersion: domain.ProcessVersion(),
		Connection:     domain.DEFAULT_CONNECTION_DESCRIPTION,
	}, nil
}

// reloadOnHangup pushes role and meter index changes to the poller on SIGHUP.
func reloadOnHangup(current *config.Config, rootContext *pactor.RootContext, master *pactor.PID, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		logger.Info("SIGHUP received, reloading meter config")
		cfg, err := readConfig()
		if err != nil {
			logger.Error("reload rejected", zap.Error(err))
			continue
		}
		if cfg.Meter.Host != current.Meter.Host || cfg.MQTT != current.MQTT || cfg.MonitorConfig != current.MonitorConfig {
			logger.Warn("reload: only meter role and meter index apply at runtime, other changes require a restart")
		}
		res, err := rootContext.RequestFuture(master, domain.ReloadMeterConfigRequest{
			Snapshot: cfg.MeterSnapshot(),
		}, 5*time.Second).Result()
		if err != nil {
			logger.Error("reload: no response from master", zap.Error(err))
			continue
		}
		if resp, ok := res.(domain.ReloadMeterConfigResponse); ok {
			if resp.HasResponseError() {
				logger.Error("reload rejected", zap.Error(resp.GetResponseError()))
			} else {
				logger.Info("reload done", zap.Bool("changed", resp.Changed))
			}
		}
	}
}

func meterActorProvider(cfg *config.Config, client shelly.Client, logger *zap.Logger) actor.MeterActorProvider {
	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(client, cfg.MonitorConfig.RequestTimeout(), logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log_file", "")
	viper.SetDefault("log_max_age_days", 30)
	viper.SetDefault("log_max_backups", 30)
	viper.SetDefault("meter.access_type", string(domain.AccessTypeOnPremise))
	viper.SetDefault("meter.host", "")
	viper.SetDefault("meter.username", "")
	viper.SetDefault("meter.password", "")
	viper.SetDefault("meter.generation", 1)
	viper.SetDefault("meter.meter_index", 0)
	viper.SetDefault("meter.role", string(domain.RoleGrid))
	viper.SetDefault("device.instance", 40)
	viper.SetDefault("device.custom_name", "")
	viper.SetDefault("device.position", 0)
	viper.SetDefault("device.max_power", 0)
	viper.SetDefault("monitor.poll_interval_millis", 1000)
	viper.SetDefault("monitor.request_timeout_millis", 800)
	viper.SetDefault("monitor.sign_of_life_minutes", 0)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "shelly2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Meter.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/librescoot/uavlink/pkg/logging"
	"github.com/librescoot/uavlink/pkg/statuspub"
	"github.com/librescoot/uavlink/pkg/telemetry"
	"github.com/librescoot/uavlink/pkg/transport"
	"github.com/librescoot/uavlink/pkg/uavobject"
	"github.com/librescoot/uavlink/pkg/uavtalk"
)

var (
	serialDevice = flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baudRate     = flag.Int("baud", 57600, "Serial baud rate")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	flag.Parse()

	logger := logging.New(&logging.Config{Level: parseLevel(*logLevel), Output: os.Stderr})
	logger.Infof("starting uavlink GCS link")
	logger.Infof("serial device: %s, baud: %d", *serialDevice, *baudRate)

	registry := uavobject.NewRegistry()
	gcsStats := uavobject.NewGCSTelemetryStats()
	flightStats := uavobject.NewFlightTelemetryStats()
	if err := registry.RegisterPrototype(gcsStats); err != nil {
		logger.Errorf("failed to register gcs telemetry stats: %v", err)
		os.Exit(1)
	}
	if err := registry.RegisterPrototype(flightStats); err != nil {
		logger.Errorf("failed to register flight telemetry stats: %v", err)
		os.Exit(1)
	}

	link, err := transport.Open(*serialDevice, *baudRate, logger)
	if err != nil {
		logger.Errorf("failed to open serial transport: %v", err)
		os.Exit(1)
	}
	defer link.Close()
	logger.Infof("serial transport open")

	controller := uavtalk.NewController(registry, link, logger)
	link.SetOnRead(controller.ProcessInputStream)

	monitor := telemetry.NewMonitor(controller, registry, gcsStats, flightStats, logger)
	monitor.Connected().Subscribe(func(struct{}) { logger.Infof("autopilot connected, bulk retrieval complete") })
	monitor.Disconnected().Subscribe(func(struct{}) { logger.Infof("autopilot disconnected") })

	publisher, err := statuspub.New(*redisAddr, *redisPass, *redisDB, logger)
	if err != nil {
		logger.Warnf("status publisher disabled: %v", err)
	} else {
		defer publisher.Close()
		detach := statuspub.Attach(publisher, monitor, gcsStats)
		defer detach()
		logger.Infof("publishing status to redis at %s", *redisAddr)
	}

	monitor.Start()
	defer monitor.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infof("shutting down")
}

// Package statuspub publishes link health to Redis for operator dashboards
// and sibling processes, grounded on the teacher's pkg/redis client. It
// never touches decoded application objects, only the connection status
// and rate snapshot the telemetry monitor already computes.
package statuspub

import (
	"context"
	"fmt"
	"time"

	"github.com/librescoot/uavlink/pkg/logging"
	"github.com/librescoot/uavlink/pkg/telemetry"
	"github.com/librescoot/uavlink/pkg/uavobject"
	"github.com/redis/go-redis/v9"
)

// StatusKey is the Redis hash key the current snapshot is written under.
const StatusKey = "uavlink:status"

// StatusChannel is the pub/sub channel a telemetry tick is announced on.
const StatusChannel = "uavlink:status:updates"

// Publisher writes connection lifecycle and rate telemetry to Redis.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
	logger *logging.Logger
}

// New connects to addr and pings it, matching the teacher's connect-and-
// verify construction.
func New(addr, password string, db int, logger *logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statuspub: failed to connect to redis: %w", err)
	}

	return &Publisher{client: client, ctx: ctx, logger: logger}, nil
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishStatus writes the current GCS connection status and data rates
// and announces the update on StatusChannel. Failures are logged and
// swallowed: the monitor never blocks on this sink.
func (p *Publisher) PublishStatus(status uint8, txRate, rxRate float32, txFail, rxFail, txRetries uint32) {
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, StatusKey,
		"status", statusName(status),
		"tx_data_rate", txRate,
		"rx_data_rate", rxRate,
		"tx_failures", txFail,
		"rx_failures", rxFail,
		"tx_retries", txRetries,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Publish(p.ctx, StatusChannel, statusName(status))

	if _, err := pipe.Exec(p.ctx); err != nil {
		p.logger.Warnf("statuspub: failed to publish status: %v", err)
	}
}

func statusName(status uint8) string {
	switch status {
	case uavobject.GCSStatusDisconnected:
		return "disconnected"
	case uavobject.GCSStatusHandshakeRequested:
		return "handshake_requested"
	case uavobject.GCSStatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Attach subscribes to m's TelemetryUpdated event and mirrors each tick's
// gcsStats snapshot to Redis via PublishStatus; Connected/Disconnected are
// only logged, not written to Redis. It returns an unsubscribe func that
// detaches all three listeners.
func Attach(p *Publisher, m *telemetry.Monitor, gcsStats *uavobject.GCSTelemetryStats) func() {
	unTel := m.TelemetryUpdated().Subscribe(func(telemetry.TelemetryUpdatedEvent) {
		status, txRate, rxRate, txFail, rxFail, txRetries := gcsStats.Data()
		p.PublishStatus(status, txRate, rxRate, txFail, rxFail, txRetries)
	})
	unConn := m.Connected().Subscribe(func(struct{}) {
		p.logger.Infof("statuspub: link connected")
	})
	unDisc := m.Disconnected().Subscribe(func(struct{}) {
		p.logger.Infof("statuspub: link disconnected")
	})

	return func() {
		unTel()
		unConn()
		unDisc()
	}
}

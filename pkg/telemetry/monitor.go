// Package telemetry implements the GCS-side connection state machine that
// drives a uavtalk.Controller's handshake with the autopilot, grounded on
// the reference TelemetryMonitor: periodic stats exchange, a connection
// timeout watchdog and a bulk object-retrieval queue run once a connection
// is established.
package telemetry

import (
	"sync"
	"time"

	"github.com/librescoot/uavlink/pkg/eventbus"
	"github.com/librescoot/uavlink/pkg/logging"
	"github.com/librescoot/uavlink/pkg/uavobject"
	"github.com/librescoot/uavlink/pkg/uavtalk"
)

const (
	// StatsConnectPeriod is how often the GCS pings for a handshake while
	// not yet connected.
	StatsConnectPeriod = 1000 * time.Millisecond
	// StatsUpdatePeriod is how often stats are exchanged once connected.
	StatsUpdatePeriod = 4000 * time.Millisecond
	// ConnectionTimeout is how long the link may go without receiving an
	// object before the monitor declares it lost.
	ConnectionTimeout = 8000 * time.Millisecond
)

// TelemetryUpdatedEvent reports the latest computed link data rates.
type TelemetryUpdatedEvent struct {
	TxDataRate float32
	RxDataRate float32
}

// Monitor owns the GCS/flight stats handshake and the bulk retrieval queue
// that runs once a connection is established. It is not itself the
// frame codec; it rides on top of a uavtalk.Controller.
type Monitor struct {
	mu sync.Mutex

	controller  *uavtalk.Controller
	registry    *uavobject.Registry
	gcsStats    *uavobject.GCSTelemetryStats
	flightStats *uavobject.FlightTelemetryStats
	logger      *logging.Logger

	startTime         time.Time
	statsInterval     time.Duration
	statsTimer        *time.Timer
	connectionTimer   *time.Timer
	connectionTimeout bool
	stopped           bool

	queue      []uavobject.Object
	objPending uavobject.Object

	unsubObjectUpdated  func()
	unsubTransactionDone func()

	connected        *eventbus.Bus[struct{}]
	disconnected     *eventbus.Bus[struct{}]
	telemetryUpdated *eventbus.Bus[TelemetryUpdatedEvent]
}

// NewMonitor wires a Monitor to controller and registry. gcsStats and
// flightStats must already be registered as prototypes in registry.
func NewMonitor(controller *uavtalk.Controller, registry *uavobject.Registry, gcsStats *uavobject.GCSTelemetryStats, flightStats *uavobject.FlightTelemetryStats, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Monitor{
		controller:       controller,
		registry:         registry,
		gcsStats:         gcsStats,
		flightStats:      flightStats,
		logger:           logger,
		startTime:        time.Now(),
		statsInterval:    StatsConnectPeriod,
		connected:        eventbus.New[struct{}](),
		disconnected:     eventbus.New[struct{}](),
		telemetryUpdated: eventbus.New[TelemetryUpdatedEvent](),
	}

	m.unsubObjectUpdated = controller.ObjectUpdated().Subscribe(m.onObjectUpdated)
	m.unsubTransactionDone = controller.TransactionCompleted().Subscribe(m.onTransactionCompleted)

	return m
}

// Connected fires once the full handshake and bulk retrieval complete.
func (m *Monitor) Connected() *eventbus.Bus[struct{}] { return m.connected }

// Disconnected fires when a previously connected link is declared lost.
func (m *Monitor) Disconnected() *eventbus.Bus[struct{}] { return m.disconnected }

// TelemetryUpdated fires on every stats tick with the latest data rates.
func (m *Monitor) TelemetryUpdated() *eventbus.Bus[TelemetryUpdatedEvent] { return m.telemetryUpdated }

// Start schedules the first stats tick. Call once after construction.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.statsTimer = time.AfterFunc(m.statsInterval, m.processStatsUpdates)
}

// Stop cancels all pending timers and prevents further rescheduling.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.statsTimer != nil {
		m.statsTimer.Stop()
	}
	if m.connectionTimer != nil {
		m.connectionTimer.Stop()
	}
	m.unsubObjectUpdated()
	m.unsubTransactionDone()
	m.mu.Unlock()

	status, txRate, rxRate, txFail, rxFail, txRetries := m.gcsStats.Data()
	_ = txRate
	_ = rxRate
	if status != uavobject.GCSStatusDisconnected {
		m.gcsStats.SetData(uavobject.GCSStatusDisconnected, 0, 0, txFail, rxFail, txRetries)
	}
}

func (m *Monitor) onObjectUpdated(e uavtalk.ObjectUpdatedEvent) {
	if !e.Remote || e.Object.ObjectID() != m.flightStats.ObjectID() {
		return
	}
	m.mu.Lock()
	status, _, _, _, _, _ := m.gcsStats.Data()
	stopped := m.stopped
	needsKick := status != uavobject.GCSStatusConnected || m.flightStats.Status() != uavobject.FlightStatusConnected
	m.mu.Unlock()

	if !stopped && needsKick {
		m.processStatsUpdates()
	}
}

func (m *Monitor) onTransactionCompleted(e uavtalk.TransactionCompletedEvent) {
	m.mu.Lock()
	if m.objPending == nil || e.Object.ObjectID() != m.objPending.ObjectID() {
		m.mu.Unlock()
		return
	}
	m.objPending = nil
	status, _, _, _, _, _ := m.gcsStats.Data()
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		return
	}
	if status == uavobject.GCSStatusConnected {
		m.retrieveNextObject()
	} else {
		m.mu.Lock()
		m.queue = nil
		m.mu.Unlock()
	}
}

// startRetrievingObjects rebuilds the bulk-retrieval queue from every meta
// object, settings object and OnChange data object currently registered,
// then kicks off the first request.
func (m *Monitor) startRetrievingObjects() {
	all := m.registry.AllObjects()
	queue := make([]uavobject.Object, 0, len(all))
	for _, obj := range all {
		if obj.Kind() == uavobject.KindMeta || obj.IsSettings() || obj.Metadata().FlightTelemetryUpdateMode == uavobject.UpdateModeOnChange {
			queue = append(queue, obj)
		}
	}

	m.mu.Lock()
	m.queue = queue
	m.mu.Unlock()

	m.logger.Debugf("telemetry: retrieving %d meta/settings/on-change objects", len(queue))
	m.retrieveNextObject()
}

func (m *Monitor) retrieveNextObject() {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.objPending = nil
		m.mu.Unlock()
		m.connected.Publish(struct{}{})
		return
	}
	obj := m.queue[0]
	m.queue = m.queue[1:]
	m.objPending = obj
	m.mu.Unlock()

	if err := m.controller.SendObjectRequest(obj, false); err != nil {
		m.logger.Warnf("telemetry: request for object %#x failed: %v", obj.ObjectID(), err)
	}
}

// processStatsUpdates is the periodic tick: it folds the last interval's
// link stats into gcsStats, advances the connection state machine and
// reschedules itself.
func (m *Monitor) processStatsUpdates() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	comStats := m.controller.GetStats()
	m.controller.ResetStats()

	now := time.Now()
	seconds := now.Sub(m.startTime).Seconds()
	m.startTime = now
	if seconds <= 0 {
		seconds = 1
	}

	status, _, _, txFail, rxFail, txRetries := m.gcsStats.Data()
	txRate := float32(float64(comStats.TxBytes) / seconds)
	rxRate := float32(float64(comStats.RxBytes) / seconds)
	txFail += comStats.TxErrors
	rxFail += comStats.RxErrors
	txRetries += comStats.TxRetries

	if comStats.RxObjects > 0 {
		m.connectionTimeout = false
		if m.connectionTimer != nil {
			m.connectionTimer.Stop()
		}
		m.connectionTimer = time.AfterFunc(ConnectionTimeout, m.connectionTimeoutHandler)
	}

	oldStatus := status
	flightStatus := m.flightStats.Status()
	switch status {
	case uavobject.GCSStatusDisconnected:
		status = uavobject.GCSStatusHandshakeRequested
	case uavobject.GCSStatusHandshakeRequested:
		if flightStatus == uavobject.FlightStatusHandshakeAck {
			status = uavobject.GCSStatusConnected
		}
	case uavobject.GCSStatusConnected:
		if flightStatus == uavobject.FlightStatusDisconnected || m.connectionTimeout {
			status = uavobject.GCSStatusDisconnected
		}
	}

	m.gcsStats.SetData(status, txRate, rxRate, txFail, rxFail, txRetries)

	forceSend := status != uavobject.GCSStatusConnected || flightStatus != uavobject.FlightStatusConnected
	justConnected := status == uavobject.GCSStatusConnected && status != oldStatus
	justDisconnected := status == uavobject.GCSStatusDisconnected && status != oldStatus

	if justConnected {
		m.statsInterval = StatsUpdatePeriod
	}
	if justDisconnected {
		m.statsInterval = StatsConnectPeriod
	}

	interval := m.statsInterval
	if m.statsTimer != nil {
		m.statsTimer.Stop()
	}
	m.statsTimer = time.AfterFunc(interval, m.processStatsUpdates)
	m.mu.Unlock()

	m.telemetryUpdated.Publish(TelemetryUpdatedEvent{TxDataRate: txRate, RxDataRate: rxRate})

	// gcsStats is published on every tick so the peer keeps seeing fresh
	// rate and failure counters for the life of the connection; while not
	// fully connected an extra send is forced below to speed convergence.
	if err := m.controller.SendObject(m.gcsStats, false, false); err != nil {
		m.logger.Warnf("telemetry: failed to send gcs stats: %v", err)
	}
	if forceSend {
		if err := m.controller.SendObject(m.gcsStats, false, false); err != nil {
			m.logger.Warnf("telemetry: failed to send gcs stats: %v", err)
		}
	}
	if justConnected {
		m.logger.Infof("telemetry: connection with the autopilot established")
		m.startRetrievingObjects()
	}
	if justDisconnected {
		m.logger.Infof("telemetry: connection with the autopilot lost, retrying handshake")
		m.disconnected.Publish(struct{}{})
	}
}

func (m *Monitor) connectionTimeoutHandler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.connectionTimeout = true
}

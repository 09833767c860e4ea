package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/librescoot/uavlink/pkg/uavobject"
	"github.com/librescoot/uavlink/pkg/uavtalk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopbackTransport struct {
	mu     sync.Mutex
	open   bool
	peer   *uavtalk.Controller
	writeN int
}

func (l *loopbackTransport) Write(p []byte) (int, error) {
	l.mu.Lock()
	peer := l.peer
	l.writeN++
	l.mu.Unlock()
	if peer != nil {
		peer.ProcessInputStream(p)
	}
	return len(p), nil
}

func (l *loopbackTransport) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeN
}

func (l *loopbackTransport) IsOpen() bool { return l.open }

func newLinkedControllers(t *testing.T) (gcsController *uavtalk.Controller, gcsReg *uavobject.Registry, apController *uavtalk.Controller, apReg *uavobject.Registry) {
	gcsController, gcsReg, apController, apReg, _, _ = newLinkedControllersWithTransports(t)
	return gcsController, gcsReg, apController, apReg
}

func newLinkedControllersWithTransports(t *testing.T) (gcsController *uavtalk.Controller, gcsReg *uavobject.Registry, apController *uavtalk.Controller, apReg *uavobject.Registry, gcsTransport *loopbackTransport, apTransport *loopbackTransport) {
	t.Helper()

	gcsReg = uavobject.NewRegistry()
	apReg = uavobject.NewRegistry()

	require.NoError(t, gcsReg.RegisterPrototype(uavobject.NewGCSTelemetryStats()))
	require.NoError(t, gcsReg.RegisterPrototype(uavobject.NewFlightTelemetryStats()))
	require.NoError(t, apReg.RegisterPrototype(uavobject.NewGCSTelemetryStats()))
	require.NoError(t, apReg.RegisterPrototype(uavobject.NewFlightTelemetryStats()))

	gcsTransport = &loopbackTransport{open: true}
	apTransport = &loopbackTransport{open: true}

	gcsController = uavtalk.NewController(gcsReg, gcsTransport, nil)
	apController = uavtalk.NewController(apReg, apTransport, nil)

	gcsTransport.peer = apController
	apTransport.peer = gcsController

	return gcsController, gcsReg, apController, apReg, gcsTransport, apTransport
}

func TestMonitorFirstTickRequestsHandshake(t *testing.T) {
	gcsController, gcsReg, _, _ := newLinkedControllers(t)

	gcsStats, _ := gcsReg.GetByID(uavobject.NewGCSTelemetryStats().ObjectID())
	flightStats, _ := gcsReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())

	m := NewMonitor(gcsController, gcsReg, gcsStats.(*uavobject.GCSTelemetryStats), flightStats.(*uavobject.FlightTelemetryStats), nil)
	defer m.Stop()

	m.processStatsUpdates()

	status, _, _, _, _, _ := gcsStats.(*uavobject.GCSTelemetryStats).Data()
	assert.Equal(t, uavobject.GCSStatusHandshakeRequested, status)
}

func TestMonitorReachesConnectedWhenFlightAcks(t *testing.T) {
	gcsController, gcsReg, _, apReg := newLinkedControllers(t)

	gcsStats, _ := gcsReg.GetByID(uavobject.NewGCSTelemetryStats().ObjectID())
	flightStats, _ := gcsReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())

	m := NewMonitor(gcsController, gcsReg, gcsStats.(*uavobject.GCSTelemetryStats), flightStats.(*uavobject.FlightTelemetryStats), nil)
	defer m.Stop()

	var connected bool
	m.Connected().Subscribe(func(struct{}) { connected = true })

	// First tick: GCS asks for a handshake.
	m.processStatsUpdates()

	// Simulate the autopilot acking by pushing FlightTelemetryStats
	// directly into the GCS registry, as if a frame had arrived.
	apFlight, _ := apReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())
	apFlight.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusHandshakeAck)
	flightStats.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusHandshakeAck)

	m.processStatsUpdates()

	status, _, _, _, _, _ := gcsStats.(*uavobject.GCSTelemetryStats).Data()
	assert.Equal(t, uavobject.GCSStatusConnected, status)
	assert.True(t, connected, "expected Connected to fire once the retrieval queue drained")
}

func TestMonitorStopSetsDisconnected(t *testing.T) {
	gcsController, gcsReg, _, _ := newLinkedControllers(t)

	gcsStats, _ := gcsReg.GetByID(uavobject.NewGCSTelemetryStats().ObjectID())
	flightStats, _ := gcsReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())
	gcsStats.(*uavobject.GCSTelemetryStats).SetData(uavobject.GCSStatusConnected, 0, 0, 0, 0, 0)

	m := NewMonitor(gcsController, gcsReg, gcsStats.(*uavobject.GCSTelemetryStats), flightStats.(*uavobject.FlightTelemetryStats), nil)
	m.Stop()

	status, _, _, _, _, _ := gcsStats.(*uavobject.GCSTelemetryStats).Data()
	assert.Equal(t, uavobject.GCSStatusDisconnected, status)
}

// TestMonitorPublishesGCSStatsEveryTickOnceConnected guards against
// gcsStats only ever being sent while the handshake is incomplete: once
// both sides are fully Connected, a steady-state tick must still put a
// TYPE_OBJ frame for gcsStats on the wire.
func TestMonitorPublishesGCSStatsEveryTickOnceConnected(t *testing.T) {
	gcsController, gcsReg, _, apReg, gcsTransport, _ := newLinkedControllersWithTransports(t)

	gcsStats, _ := gcsReg.GetByID(uavobject.NewGCSTelemetryStats().ObjectID())
	flightStats, _ := gcsReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())

	m := NewMonitor(gcsController, gcsReg, gcsStats.(*uavobject.GCSTelemetryStats), flightStats.(*uavobject.FlightTelemetryStats), nil)
	defer m.Stop()

	m.processStatsUpdates()

	apFlight, _ := apReg.GetByID(uavobject.NewFlightTelemetryStats().ObjectID())
	apFlight.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusHandshakeAck)
	flightStats.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusHandshakeAck)

	m.processStatsUpdates()

	status, _, _, _, _, _ := gcsStats.(*uavobject.GCSTelemetryStats).Data()
	require.Equal(t, uavobject.GCSStatusConnected, status)
	apFlight.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusConnected)
	flightStats.(*uavobject.FlightTelemetryStats).SetStatus(uavobject.FlightStatusConnected)

	writesBefore := gcsTransport.writeCount()
	m.processStatsUpdates()
	assert.Greater(t, gcsTransport.writeCount(), writesBefore, "expected gcsStats to be re-published to the peer on a steady-state tick")
}

func TestStatsAndTimeoutConstantsMatchReference(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, StatsConnectPeriod)
	assert.Equal(t, 4000*time.Millisecond, StatsUpdatePeriod)
	assert.Equal(t, 8000*time.Millisecond, ConnectionTimeout)
}

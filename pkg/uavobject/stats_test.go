package uavobject

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCSTelemetryStatsRoundTrip(t *testing.T) {
	obj := NewGCSTelemetryStats()
	obj.SetData(GCSStatusConnected, 123.5, 456.75, 1, 2, 3)

	buf := make([]byte, obj.NumBytes())
	require.True(t, obj.Serialize(buf))

	other := NewGCSTelemetryStats()
	require.NoError(t, other.Deserialize(buf))

	status, tx, rx, txFail, rxFail, txRetries := other.Data()
	require.Equal(t, GCSStatusConnected, status)
	require.InDelta(t, 123.5, tx, 0.001)
	require.InDelta(t, 456.75, rx, 0.001)
	require.Equal(t, uint32(1), txFail)
	require.Equal(t, uint32(2), rxFail)
	require.Equal(t, uint32(3), txRetries)
}

func TestFlightTelemetryStatsRoundTrip(t *testing.T) {
	obj := NewFlightTelemetryStats()
	obj.SetStatus(FlightStatusHandshakeAck)

	buf := make([]byte, obj.NumBytes())
	require.True(t, obj.Serialize(buf))

	other := NewFlightTelemetryStats()
	require.NoError(t, other.Deserialize(buf))
	require.Equal(t, FlightStatusHandshakeAck, other.Status())
}

func TestStatsObjectsAreSingleInstance(t *testing.T) {
	require.True(t, NewGCSTelemetryStats().IsSingleInstance())
	require.True(t, NewFlightTelemetryStats().IsSingleInstance())
}

func TestStatsClonePreservesObjectID(t *testing.T) {
	obj := NewGCSTelemetryStats()
	clone := obj.Clone(5)
	require.Equal(t, obj.ObjectID(), clone.ObjectID())
	require.Equal(t, uint16(5), clone.InstanceID())
}

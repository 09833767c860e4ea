package uavobject

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Connection status values reported by the GCS-side stats object.
const (
	GCSStatusDisconnected uint8 = iota
	GCSStatusHandshakeRequested
	GCSStatusConnected
)

// Connection status values reported by the autopilot/peer stats object.
const (
	FlightStatusDisconnected uint8 = iota
	FlightStatusHandshakeRequested
	FlightStatusHandshakeAck
	FlightStatusConnected
)

const (
	gcsTelemetryStatsObjectID   uint32 = 0x80000001
	flightTelemetryStatsObjectID uint32 = 0x80000002
)

// gcsTelemetryStatsWire is the fixed-width payload shape, CBOR-encoded onto
// the wire the same way the teacher's helpers.go marshals its UART
// messages — the one concrete object schema this module owns.
type gcsTelemetryStatsWire struct {
	Status     uint8   `cbor:"0,keyasint"`
	TxDataRate float32 `cbor:"1,keyasint"`
	RxDataRate float32 `cbor:"2,keyasint"`
	TxFailures uint32  `cbor:"3,keyasint"`
	RxFailures uint32  `cbor:"4,keyasint"`
	TxRetries  uint32  `cbor:"5,keyasint"`
}

// GCSTelemetryStats is the single-instance data object the GCS side
// publishes every tick to drive its half of the handshake (spec.md §4.7).
// Its data is reached from two independent lock domains — the telemetry
// monitor's own mutex and the controller's, serializing a send on a
// different goroutine — so access to data is guarded by its own mutex
// rather than relying on either caller's lock.
type GCSTelemetryStats struct {
	instanceID uint16

	mu   sync.RWMutex
	data gcsTelemetryStatsWire
}

// NewGCSTelemetryStats returns the instance-0 prototype.
func NewGCSTelemetryStats() *GCSTelemetryStats {
	return &GCSTelemetryStats{}
}

func (o *GCSTelemetryStats) ObjectID() uint32       { return gcsTelemetryStatsObjectID }
func (o *GCSTelemetryStats) InstanceID() uint16     { return o.instanceID }
func (o *GCSTelemetryStats) IsSingleInstance() bool { return true }
func (o *GCSTelemetryStats) NumBytes() int          { return 32 }
func (o *GCSTelemetryStats) Kind() Kind             { return KindData }
func (o *GCSTelemetryStats) IsSettings() bool       { return false }
func (o *GCSTelemetryStats) Metadata() Metadata {
	return Metadata{FlightTelemetryUpdateMode: UpdateModeManual}
}

func (o *GCSTelemetryStats) Clone(newInstanceID uint16) Object {
	o.mu.RLock()
	data := o.data
	o.mu.RUnlock()
	return &GCSTelemetryStats{instanceID: newInstanceID, data: data}
}

func (o *GCSTelemetryStats) Serialize(buf []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cborSerializeFixed(o.data, buf, o.NumBytes())
}

func (o *GCSTelemetryStats) Deserialize(buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cborDeserializeFixed(buf, &o.data)
}

// Data returns a copy of the current field values.
func (o *GCSTelemetryStats) Data() (status uint8, txRate, rxRate float32, txFail, rxFail, txRetries uint32) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data.Status, o.data.TxDataRate, o.data.RxDataRate, o.data.TxFailures, o.data.RxFailures, o.data.TxRetries
}

// SetData overwrites the current field values.
func (o *GCSTelemetryStats) SetData(status uint8, txRate, rxRate float32, txFail, rxFail, txRetries uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = gcsTelemetryStatsWire{
		Status:     status,
		TxDataRate: txRate,
		RxDataRate: rxRate,
		TxFailures: txFail,
		RxFailures: rxFail,
		TxRetries:  txRetries,
	}
}

// flightTelemetryStatsWire is the payload shape reported by the autopilot.
type flightTelemetryStatsWire struct {
	Status uint8 `cbor:"0,keyasint"`
}

// FlightTelemetryStats is the single-instance data object the autopilot
// reports its side of the handshake through. Like GCSTelemetryStats, its
// Status is read from the telemetry monitor's own lock domain while
// Deserialize runs under the controller's, so it carries its own mutex too.
type FlightTelemetryStats struct {
	instanceID uint16

	mu   sync.RWMutex
	data flightTelemetryStatsWire
}

func NewFlightTelemetryStats() *FlightTelemetryStats {
	return &FlightTelemetryStats{}
}

func (o *FlightTelemetryStats) ObjectID() uint32       { return flightTelemetryStatsObjectID }
func (o *FlightTelemetryStats) InstanceID() uint16     { return o.instanceID }
func (o *FlightTelemetryStats) IsSingleInstance() bool { return true }
func (o *FlightTelemetryStats) NumBytes() int          { return 8 }
func (o *FlightTelemetryStats) Kind() Kind             { return KindData }
func (o *FlightTelemetryStats) IsSettings() bool       { return false }
func (o *FlightTelemetryStats) Metadata() Metadata {
	return Metadata{FlightTelemetryUpdateMode: UpdateModeManual}
}

func (o *FlightTelemetryStats) Clone(newInstanceID uint16) Object {
	o.mu.RLock()
	data := o.data
	o.mu.RUnlock()
	return &FlightTelemetryStats{instanceID: newInstanceID, data: data}
}

func (o *FlightTelemetryStats) Serialize(buf []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cborSerializeFixed(o.data, buf, o.NumBytes())
}

func (o *FlightTelemetryStats) Deserialize(buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cborDeserializeFixed(buf, &o.data)
}

func (o *FlightTelemetryStats) Status() uint8 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data.Status
}

func (o *FlightTelemetryStats) SetStatus(status uint8) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data.Status = status
}

func cborSerializeFixed(v interface{}, buf []byte, numBytes int) bool {
	encoded, err := cbor.Marshal(v)
	if err != nil || len(encoded) > numBytes {
		return false
	}
	copy(buf, encoded)
	for i := len(encoded); i < numBytes; i++ {
		buf[i] = 0
	}
	return true
}

// cborDeserializeFixed decodes a single CBOR item from the front of a
// fixed-width, zero-padded wire buffer, ignoring the trailing pad bytes
// a plain cbor.Unmarshal would reject as extraneous data.
func cborDeserializeFixed(buf []byte, out interface{}) error {
	dec := cbor.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("uavobject: cbor decode failed: %w", err)
	}
	return nil
}

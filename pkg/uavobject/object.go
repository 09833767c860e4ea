// Package uavobject defines the UAVTalk object contract and the registry
// that tracks object prototypes and their per-instance clones.
//
// An object's schema (field layout, names) is intentionally out of scope
// here: the registry and codec only need an opaque payload of known byte
// width, a serialize/deserialize pair, an object ID, an instance ID and a
// handful of metadata flags. Concrete schemas are supplied by callers; this
// package ships only the two built-in stats objects the telemetry monitor's
// handshake depends on (see stats.go).
package uavobject

import "fmt"

// ALLInstances is the reserved instance ID sentinel meaning "every
// instance of this object ID".
const ALLInstances uint16 = 0xFFFF

// Kind classifies an object's role. Settings and metadata objects behave
// as data objects for framing purposes; KindMeta affects bulk retrieval
// selection (see the telemetry package) and makes a prototype ineligible
// for clone-on-update (see Registry.CloneAndRegister).
type Kind int

const (
	KindData Kind = iota
	KindMeta
	KindSettings
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindMeta:
		return "meta"
	case KindSettings:
		return "settings"
	default:
		return "unknown"
	}
}

// UpdateMode mirrors the flight-side telemetry update policy carried in an
// object's Metadata. The telemetry monitor uses OnChange to decide which
// data objects belong in its post-connection bulk retrieval queue.
type UpdateMode int

const (
	UpdateModePeriodic UpdateMode = iota
	UpdateModeOnChange
	UpdateModeManual
	UpdateModeThrottled
)

// Metadata carries the per-object telemetry policy. The codec and registry
// do not interpret most of this; only FlightTelemetryUpdateMode matters to
// the bulk-retrieval selection in the telemetry monitor.
type Metadata struct {
	FlightTelemetryUpdateMode UpdateMode
	FlightTelemetryUpdatePeriodMS uint16
}

// Object is the contract the codec, registry and monitor consume. Field
// layout and naming of the payload is entirely up to the implementation;
// the core treats it as an opaque blob of NumBytes() width.
type Object interface {
	ObjectID() uint32
	InstanceID() uint16
	IsSingleInstance() bool
	NumBytes() int
	Kind() Kind
	IsSettings() bool
	Metadata() Metadata

	// Serialize writes the object's payload into buf, which is guaranteed
	// to have at least NumBytes() capacity. It returns false on failure.
	Serialize(buf []byte) bool

	// Deserialize reads NumBytes() bytes from buf into the object.
	Deserialize(buf []byte) error

	// Clone returns a new instance of the same object ID carrying the
	// given instance ID, with the same schema as the receiver but
	// independent storage.
	Clone(newInstanceID uint16) Object
}

// ErrNotDataObject is returned when a clone-on-update is attempted against
// a prototype that is not a data object (e.g. a meta object), which the
// wire protocol never needs to clone.
var ErrNotDataObject = fmt.Errorf("uavobject: prototype is not a cloneable data object")

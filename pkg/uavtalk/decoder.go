package uavtalk

import (
	"github.com/librescoot/uavlink/pkg/crc8"
	"github.com/librescoot/uavlink/pkg/uavobject"
)

// decoderState names the byte-driven frame state machine's states
// (spec.md §4.4). Every transition folds the incoming byte into the
// running CRC except the CRC byte itself.
type decoderState int

const (
	stateSync decoderState = iota
	stateType
	stateSize
	stateObjID
	stateInstID
	stateData
	stateCS
)

// DecodedFrame is the validated event the decoder hands to the dispatcher
// once a complete frame has passed every check in spec.md §4.4.
type DecodedFrame struct {
	Type          FrameType
	ObjectID      uint32
	InstanceID    uint16
	Payload       []byte
	UnknownObject bool // true when Type == TypeObjReq and ObjectID has no registered prototype
}

// Decoder is the UAVTalk frame decoder state machine: a pure byte-driven
// transducer that resynchronizes on SYNC after any validation failure. It
// is not safe for concurrent use; the Controller serializes all calls to
// ProcessByte behind its single mutex.
type Decoder struct {
	registry *uavobject.Registry

	state        decoderState
	packetLength int
	declaredSize int
	crc          uint8

	rxType     FrameType
	rxObjID    uint32
	rxObj      uavobject.Object
	rxInstID   uint16
	payloadLen int
	instField  int

	sizeByteIdx int
	fieldBuf    [4]byte
	fieldIdx    int
	payload     []byte
	payloadIdx  int
}

// NewDecoder returns a decoder in the SYNC state, looking up objects in
// the given registry.
func NewDecoder(registry *uavobject.Registry) *Decoder {
	return &Decoder{registry: registry, state: stateSync}
}

// ProcessByte folds one inbound byte into the state machine. It returns a
// non-nil frame once a complete, valid frame has been accepted; stats is
// updated in place (rxBytes always, rxErrors/rxObjects/rxObjectBytes as
// the relevant transitions dictate).
func (d *Decoder) ProcessByte(b byte, stats *ComStats) *DecodedFrame {
	stats.RxBytes++
	d.packetLength++

	switch d.state {
	case stateSync:
		if b != SyncByte {
			return nil
		}
		d.crc = 0
		d.crc = crcUpdate(d.crc, b)
		d.packetLength = 1
		d.state = stateType
		return nil

	case stateType:
		d.crc = crcUpdate(d.crc, b)
		if b&TypeMask != TypeVersion {
			d.state = stateSync
			return nil
		}
		d.rxType = FrameType(b &^ TypeMask)
		d.declaredSize = 0
		d.sizeByteIdx = 0
		d.state = stateSize
		return nil

	case stateSize:
		d.crc = crcUpdate(d.crc, b)
		if d.sizeByteIdx == 0 {
			d.declaredSize = int(b)
			d.sizeByteIdx = 1
			return nil
		}
		d.declaredSize |= int(b) << 8
		if d.declaredSize < MinHeaderLength || d.declaredSize > MaxHeaderLength+MaxPayloadLength {
			d.state = stateSync
			return nil
		}
		d.fieldIdx = 0
		d.state = stateObjID
		return nil

	case stateObjID:
		d.crc = crcUpdate(d.crc, b)
		d.fieldBuf[d.fieldIdx] = b
		d.fieldIdx++
		if d.fieldIdx < 4 {
			return nil
		}
		return d.onObjID(stats)

	case stateInstID:
		d.crc = crcUpdate(d.crc, b)
		d.fieldBuf[d.fieldIdx] = b
		d.fieldIdx++
		if d.fieldIdx < 2 {
			return nil
		}
		d.rxInstID = uint16(d.fieldBuf[0]) | uint16(d.fieldBuf[1])<<8
		if d.payloadLen > 0 {
			d.payload = make([]byte, d.payloadLen)
			d.payloadIdx = 0
			d.state = stateData
		} else {
			d.state = stateCS
		}
		return nil

	case stateData:
		d.crc = crcUpdate(d.crc, b)
		d.payload[d.payloadIdx] = b
		d.payloadIdx++
		if d.payloadIdx < d.payloadLen {
			return nil
		}
		d.state = stateCS
		return nil

	case stateCS:
		if d.crc != b {
			stats.RxErrors++
			d.state = stateSync
			return nil
		}
		if d.packetLength != d.declaredSize+1 {
			stats.RxErrors++
			d.state = stateSync
			return nil
		}

		frame := &DecodedFrame{
			Type:          d.rxType,
			ObjectID:      d.rxObjID,
			InstanceID:    d.rxInstID,
			Payload:       d.payload,
			UnknownObject: d.rxObj == nil,
		}
		stats.RxObjectBytes += uint32(d.payloadLen)
		stats.RxObjects++
		d.state = stateSync
		return frame

	default:
		d.state = stateSync
		return nil
	}
}

// onObjID runs the geometry decisions spec.md §4.4 assigns to the OBJID
// state once all four object ID bytes have arrived.
func (d *Decoder) onObjID(stats *ComStats) *DecodedFrame {
	d.rxObjID = uint32(d.fieldBuf[0]) | uint32(d.fieldBuf[1])<<8 | uint32(d.fieldBuf[2])<<16 | uint32(d.fieldBuf[3])<<24

	obj, found := d.registry.GetByID(d.rxObjID)
	if !found && d.rxType != TypeObjReq {
		stats.RxErrors++
		d.state = stateSync
		return nil
	}
	if found {
		d.rxObj = obj
	} else {
		d.rxObj = nil
	}

	switch d.rxType {
	case TypeObjReq:
		d.payloadLen = 0
		switch {
		case !found || obj.IsSingleInstance():
			d.instField = 0
		default:
			// A request for a multi-instance object may or may not carry
			// an ALL_INSTANCES instance field (see encoder.go's
			// EncodeRequest); infer its presence from the declared frame
			// size rather than assuming either way.
			switch d.declaredSize - d.packetLength {
			case 0:
				d.instField = 0
			case 2:
				d.instField = 2
			default:
				stats.RxErrors++
				d.state = stateSync
				return nil
			}
		}
	case TypeAck, TypeNack:
		d.payloadLen = 0
		d.instField = 0
	default:
		d.payloadLen = obj.NumBytes()
		if obj.IsSingleInstance() {
			d.instField = 0
		} else {
			d.instField = 2
		}
	}

	if d.payloadLen >= MaxPayloadLength {
		stats.RxErrors++
		d.state = stateSync
		return nil
	}

	if d.packetLength+d.instField+d.payloadLen != d.declaredSize {
		stats.RxErrors++
		d.state = stateSync
		return nil
	}

	switch {
	case d.rxObj == nil:
		// Unknown object on a REQ frame: skip straight to checksum, the
		// dispatcher answers with a NACK once the frame is accepted.
		d.rxInstID = 0
		d.state = stateCS
	case d.instField == 0:
		d.rxInstID = 0
		if d.payloadLen > 0 {
			d.payload = make([]byte, d.payloadLen)
			d.payloadIdx = 0
			d.state = stateData
		} else {
			d.state = stateCS
		}
	default:
		d.fieldIdx = 0
		d.state = stateInstID
	}

	return nil
}

func crcUpdate(crc uint8, b byte) uint8 {
	return crc8.Update(crc, b)
}

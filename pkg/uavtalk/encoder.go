package uavtalk

import (
	"fmt"

	"github.com/librescoot/uavlink/pkg/crc8"
	"github.com/librescoot/uavlink/pkg/uavobject"
)

// ErrPayloadTooLarge is returned when an object's serialized size would
// not fit in a single UAVTalk frame.
var ErrPayloadTooLarge = fmt.Errorf("uavtalk: payload too large to frame")

// ErrSerializeFailed wraps a failure from Object.Serialize.
var ErrSerializeFailed = fmt.Errorf("uavtalk: object serialization failed")

// EncodeObject frames obj as a TypeObj or TypeObjAck message, instance
// field included whenever obj is not single-instance. Mirrors
// transmitSingleObject for the data-carrying frame types.
func EncodeObject(obj uavobject.Object, frameType FrameType, stats *ComStats) ([]byte, error) {
	if frameType != TypeObj && frameType != TypeObjAck {
		return nil, fmt.Errorf("uavtalk: EncodeObject called with frame type %d", frameType)
	}
	return encodeFrame(obj, frameType, obj.NumBytes(), !obj.IsSingleInstance(), obj.InstanceID(), stats)
}

// EncodeRequest frames a TypeObjReq message for obj. Request frames never
// carry a payload. When allInstances is true and obj is not single-instance,
// the frame carries an instance field set to ALLInstances, asking the peer
// to answer with every registered instance; otherwise no instance field is
// sent at all, matching the decoder's handling of a plain per-instance REQ.
func EncodeRequest(obj uavobject.Object, allInstances bool, stats *ComStats) ([]byte, error) {
	if allInstances && !obj.IsSingleInstance() {
		return encodeFrame(obj, TypeObjReq, 0, true, ALLInstances, stats)
	}
	return encodeHeaderOnly(obj, TypeObjReq, stats)
}

// EncodeAck frames a TypeAck message for obj, acknowledging receipt of an
// OBJ_ACK frame.
func EncodeAck(obj uavobject.Object, stats *ComStats) ([]byte, error) {
	return encodeHeaderOnly(obj, TypeAck, stats)
}

// EncodeNack frames a TypeNack message for an unrecognized object ID. This
// is the one frame shape that never carries an instance field, even in
// principle, since the receiving side never resolved an Object.
func EncodeNack(objectID uint32, stats *ComStats) []byte {
	buf := make([]byte, MinHeaderLength+ChecksumLength)
	buf[0] = SyncByte
	buf[1] = wireType(TypeNack)
	putUint16(buf[2:4], MinHeaderLength)
	putUint32(buf[4:8], objectID)
	buf[8] = crc8.Checksum(buf[:8])

	stats.TxBytes += uint32(len(buf))
	return buf
}

// encodeHeaderOnly builds request/ack frames: no payload, and (by
// agreement with the decoder state machine in decoder.go) no instance
// field either.
func encodeHeaderOnly(obj uavobject.Object, frameType FrameType, stats *ComStats) ([]byte, error) {
	return encodeFrame(obj, frameType, 0, false, 0, stats)
}

func encodeFrame(obj uavobject.Object, frameType FrameType, dataLength int, includeInstance bool, instanceID uint16, stats *ComStats) ([]byte, error) {
	if dataLength >= MaxPayloadLength {
		stats.TxErrors++
		return nil, ErrPayloadTooLarge
	}

	headerLen := MinHeaderLength
	if includeInstance {
		headerLen = MaxHeaderLength
	}
	totalLen := headerLen + dataLength + ChecksumLength
	buf := make([]byte, totalLen)

	buf[0] = SyncByte
	buf[1] = wireType(frameType)
	putUint16(buf[2:4], headerLen+dataLength)
	putUint32(buf[4:8], obj.ObjectID())

	dataOffset := 8
	if headerLen == MaxHeaderLength {
		putUint16(buf[8:10], instanceID)
		dataOffset = 10
	}

	if dataLength > 0 {
		if !obj.Serialize(buf[dataOffset : dataOffset+dataLength]) {
			stats.TxErrors++
			return nil, ErrSerializeFailed
		}
	}

	buf[dataOffset+dataLength] = crc8.Checksum(buf[:dataOffset+dataLength])

	stats.TxObjects++
	stats.TxBytes += uint32(totalLen)
	stats.TxObjectBytes += uint32(dataLength)
	return buf, nil
}

func putUint16(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

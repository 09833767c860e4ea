package uavtalk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeObjectSingleInstanceHeaderLength(t *testing.T) {
	obj := newFakeObject(0x1001, 4, true)
	obj.payload = []byte{1, 2, 3, 4}
	stats := &ComStats{}

	frame, err := EncodeObject(obj, TypeObj, stats)
	require.NoError(t, err)

	require.Len(t, frame, MinHeaderLength+4+ChecksumLength)
	assert.Equal(t, SyncByte, frame[0])
	assert.Equal(t, wireType(TypeObj), frame[1])
	assert.Equal(t, uint32(1), stats.TxObjects)
}

func TestEncodeObjectMultiInstanceCarriesInstanceField(t *testing.T) {
	obj := newFakeObject(0x1002, 2, false)
	obj.instanceID = 5
	obj.payload = []byte{9, 9}
	stats := &ComStats{}

	frame, err := EncodeObject(obj, TypeObj, stats)
	require.NoError(t, err)

	require.Len(t, frame, MaxHeaderLength+2+ChecksumLength)
	gotInst := uint16(frame[8]) | uint16(frame[9])<<8
	assert.Equal(t, uint16(5), gotInst)
}

func TestEncodeRequestNeverCarriesInstanceFieldWithoutAllInstances(t *testing.T) {
	obj := newFakeObject(0x1003, 8, false)
	obj.instanceID = 3
	stats := &ComStats{}

	frame, err := EncodeRequest(obj, false, stats)
	require.NoError(t, err)

	assert.Len(t, frame, MinHeaderLength+ChecksumLength)
	assert.Equal(t, wireType(TypeObjReq), frame[1])
}

func TestEncodeRequestAllInstancesCarriesALLInstancesSentinel(t *testing.T) {
	obj := newFakeObject(0x1005, 8, false)
	obj.instanceID = 3
	stats := &ComStats{}

	frame, err := EncodeRequest(obj, true, stats)
	require.NoError(t, err)

	require.Len(t, frame, MaxHeaderLength+ChecksumLength)
	assert.Equal(t, wireType(TypeObjReq), frame[1])
	gotInst := uint16(frame[8]) | uint16(frame[9])<<8
	assert.Equal(t, ALLInstances, gotInst)
}

func TestEncodeRequestSingleInstanceIgnoresAllInstances(t *testing.T) {
	obj := newFakeObject(0x1006, 8, true)
	stats := &ComStats{}

	frame, err := EncodeRequest(obj, true, stats)
	require.NoError(t, err)

	assert.Len(t, frame, MinHeaderLength+ChecksumLength)
}

func TestEncodeObjectRejectsOversizePayload(t *testing.T) {
	obj := newFakeObject(0x1004, MaxPayloadLength, true)
	stats := &ComStats{}

	_, err := EncodeObject(obj, TypeObj, stats)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, uint32(1), stats.TxErrors)
}

func TestEncodeNackShape(t *testing.T) {
	stats := &ComStats{}
	frame := EncodeNack(0xAABBCCDD, stats)

	require.Len(t, frame, MinHeaderLength+ChecksumLength)
	assert.Equal(t, wireType(TypeNack), frame[1])
	gotID := uint32(frame[4]) | uint32(frame[5])<<8 | uint32(frame[6])<<16 | uint32(frame[7])<<24
	assert.Equal(t, uint32(0xAABBCCDD), gotID)
}

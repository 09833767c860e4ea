package uavobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObject is a minimal opaque Object used by the uavobject tests (the
// uavtalk tests define their own in testobject_test.go).
type fakeObject struct {
	id         uint32
	instanceID uint16
	single     bool
	numBytes   int
	kind       Kind
	settings   bool
	payload    []byte
	mode       UpdateMode
}

func newFakeObject(id uint32, numBytes int, single bool) *fakeObject {
	return &fakeObject{id: id, numBytes: numBytes, single: single, payload: make([]byte, numBytes)}
}

func (f *fakeObject) ObjectID() uint32       { return f.id }
func (f *fakeObject) InstanceID() uint16     { return f.instanceID }
func (f *fakeObject) IsSingleInstance() bool { return f.single }
func (f *fakeObject) NumBytes() int          { return f.numBytes }
func (f *fakeObject) Kind() Kind             { return f.kind }
func (f *fakeObject) IsSettings() bool       { return f.settings }
func (f *fakeObject) Metadata() Metadata     { return Metadata{FlightTelemetryUpdateMode: f.mode} }

func (f *fakeObject) Serialize(buf []byte) bool {
	if len(buf) < f.numBytes {
		return false
	}
	copy(buf, f.payload)
	return true
}

func (f *fakeObject) Deserialize(buf []byte) error {
	f.payload = append([]byte{}, buf[:f.numBytes]...)
	return nil
}

func (f *fakeObject) Clone(newInstanceID uint16) Object {
	clone := *f
	clone.instanceID = newInstanceID
	clone.payload = append([]byte{}, f.payload...)
	return &clone
}

func TestRegisterPrototypeAndLookup(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x1000, 4, true)

	require.NoError(t, r.RegisterPrototype(proto))

	got, ok := r.GetByID(0x1000)
	require.True(t, ok)
	assert.Same(t, proto, got.(*fakeObject))
}

func TestRegisterPrototypeDuplicateFails(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x1000, 4, true)
	require.NoError(t, r.RegisterPrototype(proto))

	err := r.RegisterPrototype(newFakeObject(0x1000, 4, true))
	assert.Error(t, err)
}

func TestRegisterInstanceSingleInstanceRejected(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x2000, 4, true)
	require.NoError(t, r.RegisterPrototype(proto))

	inst := newFakeObject(0x2000, 4, true)
	inst.instanceID = 1

	err := r.Register(inst)
	assert.Error(t, err)
}

func TestRegisterInstanceDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x3000, 4, false)
	require.NoError(t, r.RegisterPrototype(proto))

	inst := newFakeObject(0x3000, 4, false)
	inst.instanceID = 1
	require.NoError(t, r.Register(inst))

	dup := newFakeObject(0x3000, 4, false)
	dup.instanceID = 1
	assert.Error(t, r.Register(dup))
}

func TestNumInstancesIncludesPrototype(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x4000, 4, false)
	require.NoError(t, r.RegisterPrototype(proto))

	assert.Equal(t, 1, r.NumInstances(0x4000))

	inst := newFakeObject(0x4000, 4, false)
	inst.instanceID = 7
	require.NoError(t, r.Register(inst))

	assert.Equal(t, 2, r.NumInstances(0x4000))
}

func TestGetByIDAndInstanceMissing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterPrototype(newFakeObject(0x5000, 4, false)))

	_, ok := r.GetByIDAndInstance(0x5000, 9)
	assert.False(t, ok)
}

func TestAllObjectsReturnsPrototypesOnly(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterPrototype(newFakeObject(0x6000, 4, false)))
	require.NoError(t, r.RegisterPrototype(newFakeObject(0x7000, 4, true)))

	inst := newFakeObject(0x6000, 4, false)
	inst.instanceID = 3
	require.NoError(t, r.Register(inst))

	all := r.AllObjects()
	assert.Len(t, all, 2)
	for _, obj := range all {
		assert.Equal(t, uint16(0), obj.InstanceID())
	}
}

func TestCloneAndRegisterRejectsMetaObjects(t *testing.T) {
	r := NewRegistry()
	meta := newFakeObject(0x8000, 4, false)
	meta.kind = KindMeta
	require.NoError(t, r.RegisterPrototype(meta))

	_, err := r.CloneAndRegister(0x8000, 1)
	assert.ErrorIs(t, err, ErrNotDataObject)
}

func TestCloneAndRegisterSucceedsForDataObjects(t *testing.T) {
	r := NewRegistry()
	proto := newFakeObject(0x9000, 4, false)
	require.NoError(t, r.RegisterPrototype(proto))

	clone, err := r.CloneAndRegister(0x9000, 7)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), clone.InstanceID())
	assert.Equal(t, 2, r.NumInstances(0x9000))
}

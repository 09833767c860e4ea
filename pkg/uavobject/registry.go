package uavobject

import (
	"fmt"
	"sync"
)

// Registry maps an object ID to its ordered list of instances, with
// instance 0 always the prototype registered at startup. It is read-mostly:
// writes only happen at startup (RegisterPrototype/Register) and on
// clone-on-update from an inbound frame for an unseen instance.
type Registry struct {
	mu      sync.RWMutex
	objects map[uint32][]Object // index 0 is always the prototype
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[uint32][]Object),
	}
}

// RegisterPrototype inserts the prototype (instance 0) for a new object ID.
// It fails if a prototype is already registered under that ID.
func (r *Registry) RegisterPrototype(obj Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := obj.ObjectID()
	if _, exists := r.objects[id]; exists {
		return fmt.Errorf("uavobject: prototype already registered for object id 0x%08x", id)
	}
	r.objects[id] = []Object{obj}
	return nil
}

// Register inserts a new instance under an already-registered object ID.
// It fails if the object ID has no prototype, if the prototype is
// single-instance and instanceID != 0, or if the instance already exists.
func (r *Registry) Register(obj Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := obj.ObjectID()
	instances, exists := r.objects[id]
	if !exists {
		return fmt.Errorf("uavobject: no prototype registered for object id 0x%08x", id)
	}

	proto := instances[0]
	if proto.IsSingleInstance() && obj.InstanceID() != 0 {
		return fmt.Errorf("uavobject: object id 0x%08x is single-instance, cannot register instance %d", id, obj.InstanceID())
	}

	for _, inst := range instances {
		if inst.InstanceID() == obj.InstanceID() {
			return fmt.Errorf("uavobject: instance %d already registered for object id 0x%08x", obj.InstanceID(), id)
		}
	}

	r.objects[id] = append(instances, obj)
	return nil
}

// GetByID returns instance 0 (the prototype) for the given object ID.
func (r *Registry) GetByID(objectID uint32) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, exists := r.objects[objectID]
	if !exists || len(instances) == 0 {
		return nil, false
	}
	return instances[0], true
}

// GetByIDAndInstance returns the exact (objectID, instanceID) instance.
func (r *Registry) GetByIDAndInstance(objectID uint32, instanceID uint16) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, exists := r.objects[objectID]
	if !exists {
		return nil, false
	}
	for _, inst := range instances {
		if inst.InstanceID() == instanceID {
			return inst, true
		}
	}
	return nil, false
}

// NumInstances returns the number of registered instances (including the
// prototype) for an object ID.
func (r *Registry) NumInstances(objectID uint32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.objects[objectID])
}

// InstanceAt returns the instance at the given registry-order index for an
// object ID (0 is always the prototype). Used by the codec when expanding
// an allInstances transmission across every registered instance.
func (r *Registry) InstanceAt(objectID uint32, index int) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, exists := r.objects[objectID]
	if !exists || index < 0 || index >= len(instances) {
		return nil, false
	}
	return instances[index], true
}

// AllObjects returns a snapshot of every registered prototype (instance 0
// of each object ID). The order follows map iteration: it is not
// insertion order and may differ between calls.
func (r *Registry) AllObjects() []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Object, 0, len(r.objects))
	for _, instances := range r.objects {
		if len(instances) > 0 {
			out = append(out, instances[0])
		}
	}
	return out
}

// CloneAndRegister clones the prototype of objectID with newInstanceID,
// registers the clone and returns it. It fails if there is no prototype or
// the prototype is not a data object that supports runtime cloning (i.e. is
// a meta object).
func (r *Registry) CloneAndRegister(objectID uint32, newInstanceID uint16) (Object, error) {
	proto, ok := r.GetByID(objectID)
	if !ok {
		return nil, fmt.Errorf("uavobject: no prototype registered for object id 0x%08x", objectID)
	}
	if proto.Kind() == KindMeta {
		return nil, ErrNotDataObject
	}

	clone := proto.Clone(newInstanceID)
	if err := r.Register(clone); err != nil {
		return nil, err
	}
	return clone, nil
}

package uavtalk

import "github.com/librescoot/uavlink/pkg/uavobject"

// transaction records a pending ACK- or REQ-requiring send. The table
// holds at most one per object ID; a new transaction for the same ID
// silently supersedes the old one (see spec.md §9, Open Question:
// repeated transaction overwrite — this behavior is preserved as-is).
type transaction struct {
	obj          uavobject.Object
	allInstances bool
}

// transactionTable tracks outstanding REQ/OBJ_ACK transactions keyed by
// object ID. It is not itself safe for concurrent use; callers serialize
// access (the Controller holds the single linearization-point mutex).
type transactionTable struct {
	pending map[uint32]*transaction
}

func newTransactionTable() *transactionTable {
	return &transactionTable{pending: make(map[uint32]*transaction)}
}

// start records a new pending transaction for obj.ObjectID(), overwriting
// any existing record under that ID without emitting a completion for the
// displaced one.
func (t *transactionTable) start(obj uavobject.Object, allInstances bool) {
	t.pending[obj.ObjectID()] = &transaction{obj: obj, allInstances: allInstances}
}

// cancel removes the record for obj.ObjectID() if present. No event is
// emitted either way.
func (t *transactionTable) cancel(obj uavobject.Object) {
	delete(t.pending, obj.ObjectID())
}

// resolve removes the pending transaction for obj.ObjectID() if it exists
// and either the record covers all instances or its instance matches
// obj.InstanceID(). It reports whether a transaction was actually
// resolved so the caller knows whether to fire transactionCompleted.
func (t *transactionTable) resolve(obj uavobject.Object) bool {
	rec, ok := t.pending[obj.ObjectID()]
	if !ok {
		return false
	}
	if !rec.allInstances && rec.obj.InstanceID() != obj.InstanceID() {
		return false
	}
	delete(t.pending, obj.ObjectID())
	return true
}

// has reports whether a transaction is pending for objectID, for tests.
func (t *transactionTable) has(objectID uint32) bool {
	_, ok := t.pending[objectID]
	return ok
}

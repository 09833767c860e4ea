package uavtalk

import (
	"fmt"
	"sync"

	"github.com/librescoot/uavlink/pkg/eventbus"
	"github.com/librescoot/uavlink/pkg/logging"
	"github.com/librescoot/uavlink/pkg/uavobject"
)

// Transport is the minimal contract the Controller needs from whatever
// carries UAVTalk bytes: a serial link, a pipe in a test, anything. It
// deliberately knows nothing about framing.
type Transport interface {
	Write(p []byte) (int, error)
	IsOpen() bool
}

// ObjectUpdatedEvent reports that obj's local copy changed, either because
// a frame arrived (Remote true) or a local send path touched it.
type ObjectUpdatedEvent struct {
	Object uavobject.Object
	Remote bool
}

// TransactionCompletedEvent reports the resolution of a pending REQ or
// OBJ_ACK transaction.
type TransactionCompletedEvent struct {
	Object  uavobject.Object
	Success bool
}

// Controller is the single linearization point for a UAVTalk link: it owns
// the decoder, the transaction table and the running stats behind one
// mutex, and dispatches decoded frames the way receiveObject does in the
// reference implementation. The mutex is always released before any
// transport write or event bus callback, so a subscriber or a Transport
// implementation is free to call back into the Controller.
type Controller struct {
	mu sync.Mutex

	registry     *uavobject.Registry
	decoder      *Decoder
	transactions *transactionTable
	stats        ComStats

	transport Transport
	logger    *logging.Logger

	objectUpdated        *eventbus.Bus[ObjectUpdatedEvent]
	transactionCompleted *eventbus.Bus[TransactionCompletedEvent]
}

// NewController wires a Controller to registry and transport. logger may
// be nil, in which case the package default logger is used.
func NewController(registry *uavobject.Registry, transport Transport, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		registry:             registry,
		decoder:              NewDecoder(registry),
		transactions:         newTransactionTable(),
		transport:            transport,
		logger:               logger,
		objectUpdated:        eventbus.New[ObjectUpdatedEvent](),
		transactionCompleted: eventbus.New[TransactionCompletedEvent](),
	}
}

// ObjectUpdated returns the bus fired whenever an object's data changes.
func (c *Controller) ObjectUpdated() *eventbus.Bus[ObjectUpdatedEvent] { return c.objectUpdated }

// TransactionCompleted returns the bus fired when a pending REQ or OBJ_ACK
// transaction resolves, successfully or not.
func (c *Controller) TransactionCompleted() *eventbus.Bus[TransactionCompletedEvent] {
	return c.transactionCompleted
}

// GetStats returns a snapshot of the running counters.
func (c *Controller) GetStats() ComStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats zeroes the running counters.
func (c *Controller) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = ComStats{}
}

// SendObjectRequest starts a REQ transaction for obj, overwriting any
// existing pending transaction for the same object ID without completing
// it (see transaction.go).
func (c *Controller) SendObjectRequest(obj uavobject.Object, allInstances bool) error {
	c.mu.Lock()
	frame, err := EncodeRequest(obj, allInstances, &c.stats)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.transactions.start(obj, allInstances)
	c.mu.Unlock()

	return c.write(frame)
}

// SendObject transmits obj, starting an OBJ_ACK transaction when acked is
// true, or firing a bare TYPE_OBJ frame otherwise.
func (c *Controller) SendObject(obj uavobject.Object, acked bool, allInstances bool) error {
	if allInstances && obj.IsSingleInstance() {
		allInstances = false
	}

	if allInstances {
		return c.sendAllInstances(obj, acked)
	}

	frameType := TypeObj
	if acked {
		frameType = TypeObjAck
	}

	c.mu.Lock()
	frame, err := EncodeObject(obj, frameType, &c.stats)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if acked {
		c.transactions.start(obj, false)
	}
	c.mu.Unlock()

	return c.write(frame)
}

func (c *Controller) sendAllInstances(obj uavobject.Object, acked bool) error {
	n := c.registry.NumInstances(obj.ObjectID())
	for i := 0; i < n; i++ {
		inst, ok := c.registry.InstanceAt(obj.ObjectID(), i)
		if !ok {
			continue
		}
		if err := c.SendObject(inst, acked, false); err != nil {
			return err
		}
	}
	return nil
}

// CancelTransaction removes any pending transaction for obj without
// firing TransactionCompleted.
func (c *Controller) CancelTransaction(obj uavobject.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions.cancel(obj)
}

// ProcessInputStream folds a chunk of inbound bytes through the decoder,
// dispatching every complete frame it yields.
func (c *Controller) ProcessInputStream(data []byte) {
	for _, b := range data {
		c.processByte(b)
	}
}

func (c *Controller) processByte(b byte) {
	c.mu.Lock()
	frame := c.decoder.ProcessByte(b, &c.stats)
	if frame == nil {
		c.mu.Unlock()
		return
	}

	writes, objEvents, txEvents := c.dispatchLocked(frame)
	c.mu.Unlock()

	for _, w := range writes {
		if err := c.write(w); err != nil {
			c.logger.Warnf("uavtalk: write failed: %v", err)
		}
	}
	for _, e := range objEvents {
		c.objectUpdated.Publish(e)
	}
	for _, e := range txEvents {
		c.transactionCompleted.Publish(e)
	}
}

// dispatchLocked mirrors receiveObject in the reference codec: it must be
// called with c.mu held, and returns the transport writes and event
// deliveries the caller should perform after releasing it.
func (c *Controller) dispatchLocked(frame *DecodedFrame) (writes [][]byte, objEvents []ObjectUpdatedEvent, txEvents []TransactionCompletedEvent) {
	allInstances := frame.InstanceID == ALLInstances

	switch frame.Type {
	case TypeObj:
		if allInstances {
			c.stats.RxErrors++
			return
		}
		obj, err := c.updateObjectLocked(frame.ObjectID, frame.InstanceID, frame.Payload)
		if err != nil {
			c.stats.RxErrors++
			return
		}
		objEvents = append(objEvents, ObjectUpdatedEvent{Object: obj, Remote: true})
		if ev, ok := c.resolveTransactionLocked(obj, true); ok {
			txEvents = append(txEvents, ev)
		}

	case TypeObjAck:
		if allInstances {
			c.stats.RxErrors++
			return
		}
		obj, err := c.updateObjectLocked(frame.ObjectID, frame.InstanceID, frame.Payload)
		if err != nil {
			c.stats.RxErrors++
			return
		}
		objEvents = append(objEvents, ObjectUpdatedEvent{Object: obj, Remote: true})
		if ackFrame, encErr := EncodeAck(obj, &c.stats); encErr == nil {
			writes = append(writes, ackFrame)
		}

	case TypeObjReq:
		if allInstances {
			obj, ok := c.registry.GetByID(frame.ObjectID)
			if !ok {
				writes = append(writes, EncodeNack(frame.ObjectID, &c.stats))
				return
			}
			writes = append(writes, c.encodeAllInstancesLocked(obj)...)
			return
		}
		obj, ok := c.registry.GetByIDAndInstance(frame.ObjectID, frame.InstanceID)
		if !ok {
			writes = append(writes, EncodeNack(frame.ObjectID, &c.stats))
			return
		}
		if f, err := EncodeObject(obj, TypeObj, &c.stats); err == nil {
			writes = append(writes, f)
		}

	case TypeNack:
		if allInstances {
			return
		}
		obj, ok := c.registry.GetByIDAndInstance(frame.ObjectID, frame.InstanceID)
		if !ok {
			return
		}
		if ev, ok := c.resolveTransactionLocked(obj, false); ok {
			txEvents = append(txEvents, ev)
		}

	case TypeAck:
		if allInstances {
			return
		}
		obj, ok := c.registry.GetByIDAndInstance(frame.ObjectID, frame.InstanceID)
		if !ok {
			return
		}
		if ev, ok := c.resolveTransactionLocked(obj, true); ok {
			txEvents = append(txEvents, ev)
		}
	}

	return
}

func (c *Controller) encodeAllInstancesLocked(proto uavobject.Object) [][]byte {
	n := c.registry.NumInstances(proto.ObjectID())
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		inst, ok := c.registry.InstanceAt(proto.ObjectID(), i)
		if !ok {
			continue
		}
		if f, err := EncodeObject(inst, TypeObj, &c.stats); err == nil {
			frames = append(frames, f)
		}
	}
	return frames
}

// updateObjectLocked implements updateObject's clone-on-unknown-instance
// semantics: an unrecognized instance of a known, multi-instance object is
// cloned from the prototype and registered before being deserialized.
func (c *Controller) updateObjectLocked(objectID uint32, instanceID uint16, data []byte) (uavobject.Object, error) {
	if obj, ok := c.registry.GetByIDAndInstance(objectID, instanceID); ok {
		if err := obj.Deserialize(data); err != nil {
			return nil, err
		}
		return obj, nil
	}

	if _, ok := c.registry.GetByID(objectID); !ok {
		return nil, fmt.Errorf("uavtalk: unknown object id %#x", objectID)
	}
	inst, err := c.registry.CloneAndRegister(objectID, instanceID)
	if err != nil {
		return nil, err
	}
	if err := inst.Deserialize(data); err != nil {
		return nil, err
	}
	return inst, nil
}

// resolveTransactionLocked completes a pending transaction for obj, if
// one exists and its scope covers obj's instance.
func (c *Controller) resolveTransactionLocked(obj uavobject.Object, success bool) (TransactionCompletedEvent, bool) {
	if !c.transactions.resolve(obj) {
		return TransactionCompletedEvent{}, false
	}
	return TransactionCompletedEvent{Object: obj, Success: success}, true
}

func (c *Controller) write(frame []byte) error {
	if c.transport == nil || !c.transport.IsOpen() {
		return fmt.Errorf("uavtalk: transport not open")
	}
	_, err := c.transport.Write(frame)
	return err
}

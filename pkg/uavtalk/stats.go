package uavtalk

// ComStats holds the link's running byte/object/error counters. The
// telemetry monitor reads and resets it once per tick to compute data
// rates; the codec and dispatcher are the only writers.
type ComStats struct {
	TxBytes       uint32
	RxBytes       uint32
	TxObjectBytes uint32
	RxObjectBytes uint32
	TxObjects     uint32
	RxObjects     uint32
	TxErrors      uint32
	RxErrors      uint32
	TxRetries     uint32
}

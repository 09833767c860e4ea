// Package transport implements the Serial UAVTalk carrier: a byte-level
// envelope (its own sync/length/CRC-16 wrapper, independent of the inner
// UAVTalk frame) riding on a UART. Envelopes are written with frame ID 0
// and the frame ID is not inspected on read: every valid envelope's
// payload goes to the OnRead callback. Grounded on the teacher's USOCK
// driver and its CRC-16/ARC table.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/librescoot/uavlink/pkg/logging"
	"github.com/tarm/serial"
)

const (
	maxEnvelopePayload = 1024
	syncByte1          = 0xF6
	syncByte2          = 0xD9
)

type envelopeState int

const (
	stateSync1 envelopeState = iota
	stateSync2
	stateFrameID
	statePayloadLen1
	statePayloadLen2
	stateHeaderCRC1
	stateHeaderCRC2
	statePayload
	statePayloadCRC1
	statePayloadCRC2
)

// Serial is a Transport implementation carrying UAVTalk bytes over a UART,
// wrapped in an envelope that gives the link its own framing/CRC
// independent of the UAVTalk codec riding on top of it.
type Serial struct {
	port   *serial.Port
	logger *logging.Logger

	writeMu  sync.Mutex
	readOnce sync.Once
	onRead   func([]byte)

	stopChan chan struct{}
	wg       sync.WaitGroup

	state   envelopeState
	header  []byte
	payload []byte
	payLen  uint16
	hdrCRC  uint16
	payCRC  uint16
}

// Open opens devicePath at baud and starts the read loop. Mirrors the
// teacher's New/readLoop split: construction opens and starts reading
// immediately; SetOnRead installs the consumer afterward.
func Open(devicePath string, baud int, logger *logging.Logger) (*Serial, error) {
	if logger == nil {
		logger = logging.Default()
	}

	config := &serial.Config{
		Name:        devicePath,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	}
	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to open serial port %s: %w", devicePath, err)
	}

	s := &Serial{
		port:     port,
		logger:   logger,
		stopChan: make(chan struct{}),
		state:    stateSync1,
		header:   make([]byte, 0, 5),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// SetOnRead installs the callback invoked with each envelope's decoded
// inner payload. Only the first call takes effect, matching a
// construct-then-wire-once lifecycle.
func (s *Serial) SetOnRead(fn func([]byte)) {
	s.readOnce.Do(func() {
		s.onRead = fn
	})
}

// IsOpen reports whether the underlying port is still usable.
func (s *Serial) IsOpen() bool {
	select {
	case <-s.stopChan:
		return false
	default:
		return s.port != nil
	}
}

// Write wraps p in one envelope and writes it in a single port.Write,
// matching WriteWithFrameID's single-syscall framing. Frame ID 0 is used
// since this transport carries only UAVTalk payload, no multiplexed
// control channel.
func (s *Serial) Write(p []byte) (int, error) {
	if len(p) > maxEnvelopePayload {
		return 0, fmt.Errorf("transport: payload size %d exceeds envelope maximum %d", len(p), maxEnvelopePayload)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	header := make([]byte, 5)
	header[0] = syncByte1
	header[1] = syncByte2
	header[2] = 0 // frame ID
	binary.LittleEndian.PutUint16(header[3:5], uint16(len(p)))
	headerCRC := crc16(header, 0)
	payloadCRC := crc16(p, 0)

	frame := make([]byte, 0, len(header)+2+len(p)+2)
	frame = append(frame, header...)
	frame = append(frame, byte(headerCRC), byte(headerCRC>>8))
	frame = append(frame, p...)
	frame = append(frame, byte(payloadCRC), byte(payloadCRC>>8))

	if _, err := s.port.Write(frame); err != nil {
		return 0, fmt.Errorf("transport: write failed: %w", err)
	}
	return len(p), nil
}

// Close stops the read loop and closes the port. The port is closed before
// waiting on the read-loop goroutine: with ReadTimeout 0, port.Read blocks
// until a byte arrives, and closing stopChan alone would never interrupt
// it on an idle link.
func (s *Serial) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}
	err := s.port.Close()
	s.wg.Wait()
	return err
}

func (s *Serial) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 1)
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if err != io.EOF {
				s.logger.Warnf("transport: serial read error: %v", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		if n == 0 {
			continue
		}
		s.processByte(buf[0])
	}
}

func (s *Serial) processByte(b byte) {
	switch s.state {
	case stateSync1:
		if b == syncByte1 {
			s.state = stateSync2
			s.header = s.header[:0]
			s.header = append(s.header, b)
		}

	case stateSync2:
		if b == syncByte2 {
			s.state = stateFrameID
			s.header = append(s.header, b)
		} else {
			s.state = stateSync1
		}

	case stateFrameID:
		s.header = append(s.header, b)
		s.state = statePayloadLen1

	case statePayloadLen1:
		s.payLen = uint16(b)
		s.header = append(s.header, b)
		s.state = statePayloadLen2

	case statePayloadLen2:
		s.payLen |= uint16(b) << 8
		s.header = append(s.header, b)
		s.state = stateHeaderCRC1
		if s.payLen > maxEnvelopePayload {
			s.logger.Warnf("transport: envelope payload length %d exceeds max %d, resyncing", s.payLen, maxEnvelopePayload)
			s.state = stateSync1
		}

	case stateHeaderCRC1:
		s.hdrCRC = uint16(b)
		s.state = stateHeaderCRC2

	case stateHeaderCRC2:
		s.hdrCRC |= uint16(b) << 8
		if crc16(s.header, 0) != s.hdrCRC {
			s.logger.Warnf("transport: envelope header CRC mismatch, resyncing")
			s.state = stateSync1
			return
		}
		s.payload = make([]byte, 0, s.payLen)
		s.state = statePayload
		if s.payLen == 0 {
			s.state = statePayloadCRC1
		}

	case statePayload:
		s.payload = append(s.payload, b)
		if uint16(len(s.payload)) >= s.payLen {
			s.state = statePayloadCRC1
		}

	case statePayloadCRC1:
		s.payCRC = uint16(b)
		s.state = statePayloadCRC2

	case statePayloadCRC2:
		s.payCRC |= uint16(b) << 8
		if crc16(s.payload, 0) != s.payCRC {
			s.logger.Warnf("transport: envelope payload CRC mismatch, resyncing")
			s.state = stateSync1
			return
		}
		if s.onRead != nil {
			payload := append([]byte(nil), s.payload...)
			s.onRead(payload)
		}
		s.state = stateSync1
	}
}

// crc16Table is the CRC-16/ARC table, shared with the envelope's header
// and payload checks.
var crc16Table = [256]uint16{
	0x0000, 0xC0C1, 0xC181, 0x0140, 0xC301, 0x03C0, 0x0280, 0xC241, 0xC601, 0x06C0, 0x0780, 0xC741,
	0x0500, 0xC5C1, 0xC481, 0x0440, 0xCC01, 0x0CC0, 0x0D80, 0xCD41, 0x0F00, 0xCFC1, 0xCE81, 0x0E40,
	0x0A00, 0xCAC1, 0xCB81, 0x0B40, 0xC901, 0x09C0, 0x0880, 0xC841, 0xD801, 0x18C0, 0x1980, 0xD941,
	0x1B00, 0xDBC1, 0xDA81, 0x1A40, 0x1E00, 0xDEC1, 0xDF81, 0x1F40, 0xDD01, 0x1DC0, 0x1C80, 0xDC41,
	0x1400, 0xD4C1, 0xD581, 0x1540, 0xD701, 0x17C0, 0x1680, 0xD641, 0xD201, 0x12C0, 0x1380, 0xD341,
	0x1100, 0xD1C1, 0xD081, 0x1040, 0xF001, 0x30C0, 0x3180, 0xF141, 0x3300, 0xF3C1, 0xF281, 0x3240,
	0x3600, 0xF6C1, 0xF781, 0x3740, 0xF501, 0x35C0, 0x3480, 0xF441, 0x3C00, 0xFCC1, 0xFD81, 0x3D40,
	0xFF01, 0x3FC0, 0x3E80, 0xFE41, 0xFA01, 0x3AC0, 0x3B80, 0xFB41, 0x3900, 0xF9C1, 0xF881, 0x3840,
	0x2800, 0xE8C1, 0xE981, 0x2940, 0xEB01, 0x2BC0, 0x2A80, 0xEA41, 0xEE01, 0x2EC0, 0x2F80, 0xEF41,
	0x2D00, 0xEDC1, 0xEC81, 0x2C40, 0xE401, 0x24C0, 0x2580, 0xE541, 0x2700, 0xE7C1, 0xE681, 0x2640,
	0x2200, 0xE2C1, 0xE381, 0x2340, 0xE101, 0x21C0, 0x2080, 0xE041, 0xA001, 0x60C0, 0x6180, 0xA141,
	0x6300, 0xA3C1, 0xA281, 0x6240, 0x6600, 0xA6C1, 0xA781, 0x6740, 0xA501, 0x65C0, 0x6480, 0xA441,
	0x6C00, 0xACC1, 0xAD81, 0x6D40, 0xAF01, 0x6FC0, 0x6E80, 0xAE41, 0xAA01, 0x6AC0, 0x6B80, 0xAB41,
	0x6900, 0xA9C1, 0xA881, 0x6840, 0x7800, 0xB8C1, 0xB981, 0x7940, 0xBB01, 0x7BC0, 0x7A80, 0xBA41,
	0xBE01, 0x7EC0, 0x7F80, 0xBF41, 0x7D00, 0xBDC1, 0xBC81, 0x7C40, 0xB401, 0x74C0, 0x7580, 0xB541,
	0x7700, 0xB7C1, 0xB681, 0x7640, 0x7200, 0xB2C1, 0xB381, 0x7340, 0xB101, 0x71C0, 0x7080, 0xB041,
	0x5000, 0x90C1, 0x9181, 0x5140, 0x9301, 0x53C0, 0x5280, 0x9241, 0x9601, 0x56C0, 0x5780, 0x9741,
	0x5500, 0x95C1, 0x9481, 0x5440, 0x9C01, 0x5CC0, 0x5D80, 0x9D41, 0x5F00, 0x9FC1, 0x9E81, 0x5E40,
	0x5A00, 0x9AC1, 0x9B81, 0x5B40, 0x9901, 0x59C0, 0x5880, 0x9841, 0x8801, 0x48C0, 0x4980, 0x8941,
	0x4B00, 0x8BC1, 0x8A81, 0x4A40, 0x4E00, 0x8EC1, 0x8F81, 0x4F40, 0x8D01, 0x4DC0, 0x4C80, 0x8C41,
	0x4400, 0x84C1, 0x8581, 0x4540, 0x8701, 0x47C0, 0x4680, 0x8641, 0x8201, 0x42C0, 0x4380, 0x8341,
	0x4100, 0x81C1, 0x8081, 0x4040,
}

func crc16(data []byte, seed uint16) uint16 {
	crc := seed
	for _, b := range data {
		idx := (crc ^ uint16(b)) & 0xFF
		crc = (crc >> 8) ^ crc16Table[idx]
	}
	return crc
}

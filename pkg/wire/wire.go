// Package wire implements the datagram framing of the transport. Two layouts
// exist in the field: one that carries a per-packet encoding symbol index
// (esi) after the block id and one that does not. A Layout value captures the
// variant plus the codec payload size and marshals both PDU kinds.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortBuffer = errors.New("wire: buffer too small for layout")
	ErrBadSize     = errors.New("wire: datagram size does not match layout")
)

// Packet is a coded-payload PDU.
type Packet struct {
	BlockID uint32
	ESI     uint32 // sender-assigned sequence within the block, layout B only
	Payload []byte
}

// Ack is a rank-feedback PDU. Rank equal to the symbol count of a generation
// means "complete, stop sending for this block".
type Ack struct {
	BlockID uint32
	ESI     uint32 // echo of the acked packet's esi, layout B only
	Rank    uint32
}

// Layout fixes the wire variant and the codec payload size P.
type Layout struct {
	WithESI     bool
	PayloadSize int
}

func (l Layout) headerSize() int {
	if l.WithESI {
		return 8
	}
	return 4
}

// PacketSize is the exact datagram size of every packet under this layout.
func (l Layout) PacketSize() int {
	return l.headerSize() + l.PayloadSize
}

// AckSize is the exact datagram size of every ack under this layout.
func (l Layout) AckSize() int {
	return l.headerSize() + 4
}

// MarshalPacket writes pkt into buf and returns the number of bytes written.
func (l Layout) MarshalPacket(buf []byte, pkt *Packet) (int, error) {
	if len(buf) < l.PacketSize() {
		return 0, ErrShortBuffer
	}
	if len(pkt.Payload) != l.PayloadSize {
		return 0, fmt.Errorf("%w: payload %d, want %d", ErrBadSize, len(pkt.Payload), l.PayloadSize)
	}
	binary.LittleEndian.PutUint32(buf[0:4], pkt.BlockID)
	off := 4
	if l.WithESI {
		binary.LittleEndian.PutUint32(buf[4:8], pkt.ESI)
		off = 8
	}
	copy(buf[off:], pkt.Payload)
	return l.PacketSize(), nil
}

// UnmarshalPacket parses a datagram of exactly PacketSize bytes. The payload
// aliases buf.
func (l Layout) UnmarshalPacket(buf []byte, pkt *Packet) error {
	if len(buf) != l.PacketSize() {
		return fmt.Errorf("%w: packet %d, want %d", ErrBadSize, len(buf), l.PacketSize())
	}
	pkt.BlockID = binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if l.WithESI {
		pkt.ESI = binary.LittleEndian.Uint32(buf[4:8])
		off = 8
	} else {
		pkt.ESI = 0
	}
	pkt.Payload = buf[off:]
	return nil
}

// MarshalAck writes ack into buf and returns the number of bytes written.
func (l Layout) MarshalAck(buf []byte, ack *Ack) (int, error) {
	if len(buf) < l.AckSize() {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(buf[0:4], ack.BlockID)
	off := 4
	if l.WithESI {
		binary.LittleEndian.PutUint32(buf[4:8], ack.ESI)
		off = 8
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], ack.Rank)
	return l.AckSize(), nil
}

// UnmarshalAck parses a datagram of exactly AckSize bytes.
func (l Layout) UnmarshalAck(buf []byte, ack *Ack) error {
	if len(buf) != l.AckSize() {
		return fmt.Errorf("%w: ack %d, want %d", ErrBadSize, len(buf), l.AckSize())
	}
	ack.BlockID = binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if l.WithESI {
		ack.ESI = binary.LittleEndian.Uint32(buf[4:8])
		off = 8
	} else {
		ack.ESI = 0
	}
	ack.Rank = binary.LittleEndian.Uint32(buf[off : off+4])
	return nil
}

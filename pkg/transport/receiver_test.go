package transport

import (
	"encoding/binary"
	"testing"

	golrtp "github.com/fountaincode/golrtp"
	"github.com/fountaincode/golrtp/pkg/channel/memchan"
	"github.com/fountaincode/golrtp/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReceiver(t *testing.T, cfg Config) (*Receiver, *memchan.Endpoint) {
	t.Helper()
	a, b := memchan.NewPair(memchan.Options{})
	rx, err := NewReceiver(cfg, newTestFactory(t, cfg), b, nil)
	require.NoError(t, err)
	return rx, a
}

// makeSymbol builds one symbol image holding the given prefixed records,
// zero-padded.
func makeSymbol(size int, recs ...[]byte) []byte {
	sym := make([]byte, size)
	off := 0
	for _, rec := range recs {
		off += copy(sym[off:], rec)
	}
	return sym
}

func prefixed(payload []byte) []byte {
	rec := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(rec, uint16(len(rec)))
	copy(rec[2:], payload)
	return rec
}

func TestReassembleSingleSymbol(t *testing.T) {
	cfg := testConfig()
	rx, _ := newTestReceiver(t, cfg)

	rx.symbols.Push(makeSymbol(cfg.SymbolSize, prefixed([]byte("abc")), prefixed([]byte("defg"))))
	require.NoError(t, rx.reassemble())

	buf := make([]byte, 64)
	n, err := rx.Deliver(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	n, err = rx.Deliver(buf)
	require.NoError(t, err)
	assert.Equal(t, "defg", string(buf[:n]))
	n, err = rx.Deliver(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReassembleAcrossSymbols(t *testing.T) {
	cfg := testConfig()
	rx, _ := newTestReceiver(t, cfg)

	// One 30-byte record split over two 16-byte symbols
	payload := make([]byte, 28)
	for i := range payload {
		payload[i] = byte(i)
	}
	rec := prefixed(payload)
	rx.symbols.Push(makeSymbol(cfg.SymbolSize, rec[:16]))
	require.NoError(t, rx.reassemble())

	// Still open: nothing deliverable yet
	buf := make([]byte, 64)
	n, err := rx.Deliver(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	rx.symbols.Push(makeSymbol(cfg.SymbolSize, rec[16:]))
	require.NoError(t, rx.reassemble())
	n, err = rx.Deliver(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestReassembleRejectsWrongLength(t *testing.T) {
	cfg := testConfig()
	cfg.IntendedLen = 10
	rx, _ := newTestReceiver(t, cfg)

	rx.symbols.Push(makeSymbol(cfg.SymbolSize, prefixed(make([]byte, 12))))
	require.NoError(t, rx.reassemble())
	assert.Equal(t, uint64(1), rx.Stats().BadRecords)
	assert.Zero(t, rx.Stats().QueuedRecords)

	cfg.Strict = true
	rx2, _ := newTestReceiver(t, cfg)
	rx2.symbols.Push(makeSymbol(cfg.SymbolSize, prefixed(make([]byte, 12))))
	assert.ErrorIs(t, rx2.reassemble(), golrtp.ErrRecordLength)
}

func TestDeliverShortBuffer(t *testing.T) {
	cfg := testConfig()
	rx, _ := newTestReceiver(t, cfg)
	rx.symbols.Push(makeSymbol(cfg.SymbolSize, prefixed([]byte("abcdef"))))
	require.NoError(t, rx.reassemble())

	_, err := rx.Deliver(make([]byte, 3))
	assert.ErrorIs(t, err, golrtp.ErrIllegalArgument)
	// The record stays queued
	n, err := rx.Deliver(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestObsoleteBlockGetsFullRankAck(t *testing.T) {
	cfg := testConfig()
	rx, peer := newTestReceiver(t, cfg)
	rx.expectedBlockID = 3

	factory := newTestFactory(t, cfg)
	layout := wire.Layout{WithESI: true, PayloadSize: factory.MaxPayloadSize()}
	enc := factory.NewEncoder()
	sym := make([]byte, cfg.SymbolSize)
	require.NoError(t, enc.Load(0, sym))
	payload := make([]byte, factory.MaxPayloadSize())
	_, err := enc.WritePayload(payload)
	require.NoError(t, err)

	pktbuf := make([]byte, layout.PacketSize())
	for esi := 0; esi < 8; esi++ {
		n, err := layout.MarshalPacket(pktbuf, &wire.Packet{BlockID: 2, ESI: uint32(esi), Payload: payload})
		require.NoError(t, err)
		require.NoError(t, peer.Send(pktbuf[:n]))
	}
	require.NoError(t, rx.Process())

	s := rx.Stats()
	assert.Equal(t, uint64(8), s.ObsoletePackets)
	assert.Equal(t, uint64(8), s.AcksSent)
	// Nothing was buffered or decoded for the stale generation
	assert.Zero(t, s.OpenDecoders)
	assert.Zero(t, s.PendingPackets)

	// Each ack is full rank for the stale block
	ackbuf := make([]byte, layout.AckSize())
	for i := 0; i < 8; i++ {
		n, err := peer.Recv(ackbuf)
		require.NoError(t, err)
		var ack wire.Ack
		require.NoError(t, layout.UnmarshalAck(ackbuf[:n], &ack))
		assert.Equal(t, uint32(2), ack.BlockID)
		assert.Equal(t, uint32(cfg.MaxSymbols), ack.Rank)
	}
}

func TestIntakeDropsWrongSize(t *testing.T) {
	cfg := testConfig()
	rx, peer := newTestReceiver(t, cfg)
	require.NoError(t, peer.Send(make([]byte, 5)))
	require.NoError(t, rx.Process())
	assert.Equal(t, uint64(1), rx.Stats().BadDatagrams)

	cfg.Strict = true
	rx2, peer2 := newTestReceiver(t, cfg)
	require.NoError(t, peer2.Send(make([]byte, 5)))
	assert.ErrorIs(t, rx2.Process(), golrtp.ErrDatagramSize)
}

func TestPendingStaysSorted(t *testing.T) {
	cfg := testConfig()
	rx, _ := newTestReceiver(t, cfg)

	for _, k := range [][2]uint32{{2, 0}, {1, 3}, {1, 1}, {3, 0}, {1, 2}} {
		rx.insertPending(pendingPacket{blockID: k[0], esi: k[1]})
	}
	var got [][2]uint32
	for _, p := range rx.pending {
		got = append(got, [2]uint32{p.blockID, p.esi})
	}
	assert.Equal(t, [][2]uint32{{1, 1}, {1, 2}, {1, 3}, {2, 0}, {3, 0}}, got)
}

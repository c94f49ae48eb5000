package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTripWithESI(t *testing.T) {
	l := Layout{WithESI: true, PayloadSize: 32}
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	in := Packet{BlockID: 7, ESI: 42, Payload: payload}
	buf := make([]byte, l.PacketSize())
	n, err := l.MarshalPacket(buf, &in)
	require.NoError(t, err)
	assert.Equal(t, l.PacketSize(), n)

	var out Packet
	require.NoError(t, l.UnmarshalPacket(buf[:n], &out))
	assert.Equal(t, in.BlockID, out.BlockID)
	assert.Equal(t, in.ESI, out.ESI)
	assert.Equal(t, payload, out.Payload)
}

func TestPacketRoundTripWithoutESI(t *testing.T) {
	l := Layout{WithESI: false, PayloadSize: 16}
	in := Packet{BlockID: 3, ESI: 99, Payload: make([]byte, 16)}
	buf := make([]byte, l.PacketSize())
	n, err := l.MarshalPacket(buf, &in)
	require.NoError(t, err)
	assert.Equal(t, 4+16, n)

	var out Packet
	require.NoError(t, l.UnmarshalPacket(buf[:n], &out))
	assert.Equal(t, uint32(3), out.BlockID)
	// The esi never travelled
	assert.Equal(t, uint32(0), out.ESI)
}

func TestAckRoundTrip(t *testing.T) {
	for _, withESI := range []bool{true, false} {
		l := Layout{WithESI: withESI, PayloadSize: 16}
		in := Ack{BlockID: 11, ESI: 5, Rank: 256}
		buf := make([]byte, l.AckSize())
		n, err := l.MarshalAck(buf, &in)
		require.NoError(t, err)

		var out Ack
		require.NoError(t, l.UnmarshalAck(buf[:n], &out))
		assert.Equal(t, in.BlockID, out.BlockID)
		assert.Equal(t, in.Rank, out.Rank)
		if withESI {
			assert.Equal(t, in.ESI, out.ESI)
		}
	}
}

func TestSizeMismatch(t *testing.T) {
	l := Layout{WithESI: true, PayloadSize: 16}
	var pkt Packet
	assert.ErrorIs(t, l.UnmarshalPacket(make([]byte, l.PacketSize()-1), &pkt), ErrBadSize)
	var ack Ack
	assert.ErrorIs(t, l.UnmarshalAck(make([]byte, l.AckSize()+1), &ack), ErrBadSize)
	_, err := l.MarshalPacket(make([]byte, 4), &Packet{Payload: make([]byte, 16)})
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = l.MarshalPacket(make([]byte, l.PacketSize()), &Packet{Payload: make([]byte, 15)})
	assert.ErrorIs(t, err, ErrBadSize)
}

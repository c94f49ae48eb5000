package codec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSymbols    = 16
	testSymbolSize = 64
)

func buildBlock(t *testing.T, rng *rand.Rand) ([]byte, [][]byte) {
	t.Helper()
	block := make([]byte, testSymbols*testSymbolSize)
	rng.Read(block)
	symbols := make([][]byte, testSymbols)
	for i := range symbols {
		symbols[i] = block[i*testSymbolSize : (i+1)*testSymbolSize]
	}
	return block, symbols
}

func TestGF256Arithmetic(t *testing.T) {
	for a := 1; a < 256; a++ {
		assert.Equal(t, byte(a), gfMul(byte(a), 1))
		assert.Equal(t, byte(0), gfMul(byte(a), 0))
		assert.Equal(t, byte(1), gfMul(byte(a), gfInv(byte(a))))
	}
	// x^7 * x = x^8, reduced by 0x11d: 0x80 * 2 = 0x1d
	assert.Equal(t, byte(0x1d), gfMul(0x80, 2))
}

func TestEncoderSystematicPhase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, symbols := buildBlock(t, rng)
	f, err := NewFactory(testSymbols, testSymbolSize)
	require.NoError(t, err)
	enc := f.NewEncoder()

	out := make([]byte, f.MaxPayloadSize())
	for i, sym := range symbols {
		require.NoError(t, enc.Load(i, sym))
		assert.Equal(t, i+1, enc.Rank())
		n, err := enc.WritePayload(out)
		require.NoError(t, err)
		assert.Equal(t, f.MaxPayloadSize(), n)
		assert.Equal(t, kindSystematic, out[0])
		assert.Equal(t, sym, out[headerSize:n])
	}
	// Every further payload is repair
	n, err := enc.WritePayload(out)
	require.NoError(t, err)
	assert.Equal(t, f.MaxPayloadSize(), n)
	assert.Equal(t, kindRepair, out[0])
}

func TestEncoderLoadValidation(t *testing.T) {
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	assert.ErrorIs(t, enc.Load(1, make([]byte, testSymbolSize)), ErrSymbolIndex)
	assert.ErrorIs(t, enc.Load(0, make([]byte, testSymbolSize-1)), ErrSymbolSize)
	_, err := enc.WritePayload(make([]byte, f.MaxPayloadSize()))
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestDecodeSystematicOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	block, symbols := buildBlock(t, rng)
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	dec := f.NewDecoder()
	recovered := make([]byte, testSymbols*testSymbolSize)
	require.NoError(t, dec.SetMutableBlock(recovered))

	out := make([]byte, f.MaxPayloadSize())
	for i, sym := range symbols {
		require.NoError(t, enc.Load(i, sym))
		n, _ := enc.WritePayload(out)
		require.NoError(t, dec.ReadPayload(out[:n]))
		assert.Equal(t, i+1, dec.Rank())
		assert.True(t, dec.IsSymbolUncoded(i))
	}
	assert.True(t, dec.IsComplete())
	assert.Equal(t, block, recovered)
}

func TestDecodeFromRepairOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	block, symbols := buildBlock(t, rng)
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	dec := f.NewDecoder()
	recovered := make([]byte, testSymbols*testSymbolSize)
	require.NoError(t, dec.SetMutableBlock(recovered))

	out := make([]byte, f.MaxPayloadSize())
	for i, sym := range symbols {
		require.NoError(t, enc.Load(i, sym))
		// Drop every systematic payload on the floor
		_, err := enc.WritePayload(out)
		require.NoError(t, err)
	}
	// Feed repair payloads until the decoder completes
	for i := 0; i < 4*testSymbols && !dec.IsComplete(); i++ {
		n, err := enc.WritePayload(out)
		require.NoError(t, err)
		require.NoError(t, dec.ReadPayload(out[:n]))
	}
	require.True(t, dec.IsComplete())
	assert.Equal(t, block, recovered)
}

func TestDecodeUnderLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	block, symbols := buildBlock(t, rng)
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	dec := f.NewDecoder()
	recovered := make([]byte, testSymbols*testSymbolSize)
	require.NoError(t, dec.SetMutableBlock(recovered))

	out := make([]byte, f.MaxPayloadSize())
	for i, sym := range symbols {
		require.NoError(t, enc.Load(i, sym))
		n, _ := enc.WritePayload(out)
		if rng.Float64() < 0.4 {
			continue
		}
		prev := dec.Rank()
		require.NoError(t, dec.ReadPayload(out[:n]))
		assert.GreaterOrEqual(t, dec.Rank(), prev)
	}
	for i := 0; i < 16*testSymbols && !dec.IsComplete(); i++ {
		n, _ := enc.WritePayload(out)
		if rng.Float64() < 0.4 {
			continue
		}
		require.NoError(t, dec.ReadPayload(out[:n]))
	}
	require.True(t, dec.IsComplete())
	assert.Equal(t, block, recovered)
}

func TestPartialExtractionOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	_, symbols := buildBlock(t, rng)
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	dec := f.NewDecoder()
	recovered := make([]byte, testSymbols*testSymbolSize)
	require.NoError(t, dec.SetMutableBlock(recovered))

	out := make([]byte, f.MaxPayloadSize())
	// Deliver only symbols 0 and 2 systematically
	for i := 0; i < 3; i++ {
		require.NoError(t, enc.Load(i, symbols[i]))
		n, _ := enc.WritePayload(out)
		if i != 1 {
			require.NoError(t, dec.ReadPayload(out[:n]))
		}
	}
	assert.True(t, dec.IsSymbolUncoded(0))
	assert.False(t, dec.IsSymbolUncoded(1))
	assert.True(t, dec.IsSymbolUncoded(2))
	assert.Equal(t, symbols[0], recovered[:testSymbolSize])
}

func TestDuplicatePayloadIsNoop(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	_, symbols := buildBlock(t, rng)
	f, _ := NewFactory(testSymbols, testSymbolSize)
	enc := f.NewEncoder()
	dec := f.NewDecoder()
	recovered := make([]byte, testSymbols*testSymbolSize)
	require.NoError(t, dec.SetMutableBlock(recovered))

	out := make([]byte, f.MaxPayloadSize())
	require.NoError(t, enc.Load(0, symbols[0]))
	n, _ := enc.WritePayload(out)
	require.NoError(t, dec.ReadPayload(out[:n]))
	assert.Equal(t, 1, dec.Rank())
	// Same payload again must not change anything
	require.NoError(t, dec.ReadPayload(out[:n]))
	assert.Equal(t, 1, dec.Rank())
	assert.Equal(t, symbols[0], recovered[:testSymbolSize])
}

func TestDecoderPayloadValidation(t *testing.T) {
	f, _ := NewFactory(testSymbols, testSymbolSize)
	dec := f.NewDecoder()
	buf := make([]byte, f.MaxPayloadSize())
	assert.ErrorIs(t, dec.ReadPayload(buf), ErrNoBlock)
	require.NoError(t, dec.SetMutableBlock(make([]byte, testSymbols*testSymbolSize)))
	assert.ErrorIs(t, dec.ReadPayload(buf[:4]), ErrPayload)
	buf[0] = 0x7f
	assert.ErrorIs(t, dec.ReadPayload(buf), ErrPayload)
}

func BenchmarkDecoderReadPayload(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	f, _ := NewFactory(64, 1024)
	enc := f.NewEncoder()
	block := make([]byte, 64*1024)
	rng.Read(block)
	for i := 0; i < 64; i++ {
		_ = enc.Load(i, block[i*1024:(i+1)*1024])
	}
	payloads := make([][]byte, 256)
	for i := range payloads {
		p := make([]byte, f.MaxPayloadSize())
		_, _ = enc.WritePayload(p)
		payloads[i] = p
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := f.NewDecoder()
		_ = dec.SetMutableBlock(make([]byte, 64*1024))
		for _, p := range payloads {
			_ = dec.ReadPayload(p)
		}
	}
}

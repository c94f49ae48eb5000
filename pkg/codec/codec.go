// Package codec defines the erasure-codec contract the transport is built
// against, together with a default systematic rateless implementation
// (random linear coding over GF(256), on-the-fly).
//
// An encoder absorbs up to K source symbols of S bytes and produces coded
// payloads on demand: first one systematic copy per loaded symbol, then
// repair combinations of the loaded prefix. A decoder absorbs payloads in any
// order and exposes partial per-symbol decode state so the receiver can
// deliver symbols in index order before the whole generation is recovered.
package codec

import "errors"

var (
	ErrSymbolIndex   = errors.New("symbol index out of range or loaded out of order")
	ErrSymbolSize    = errors.New("symbol has wrong size")
	ErrNoSymbols     = errors.New("no symbols loaded")
	ErrBlockSize     = errors.New("mutable block has wrong size")
	ErrNoBlock       = errors.New("mutable block not set")
	ErrPayload       = errors.New("malformed coded payload")
	ErrPayloadBuffer = errors.New("payload buffer too small")
)

// Encoder produces coded payloads for one generation.
type Encoder interface {
	// Load stages the source symbol at the given position. Symbols are
	// loaded in index order; the encoder keeps a reference to data, which
	// must stay valid and immutable for the encoder's lifetime.
	Load(index int, data []byte) error
	// Rank is the number of symbols loaded so far, monotone in loads.
	Rank() int
	// WritePayload produces one coded payload into out and returns its
	// size. Payloads are systematic copies of loaded symbols until each has
	// been emitted once, repair combinations afterwards.
	WritePayload(out []byte) (int, error)
}

// Decoder recovers one generation from coded payloads.
type Decoder interface {
	// SetMutableBlock designates the K*S byte region recovered symbols are
	// written into, symbol i at offset i*S. Must be called before
	// ReadPayload.
	SetMutableBlock(buf []byte) error
	// ReadPayload ingests one coded payload. Redundant payloads are no-ops.
	ReadPayload(in []byte) error
	// Rank is the number of linearly independent payloads absorbed.
	Rank() int
	IsComplete() bool
	// IsSymbolUncoded reports whether the symbol at index is fully decoded
	// in place in the mutable block.
	IsSymbolUncoded(index int) bool
}

// Factory builds coders preconfigured with the generation geometry.
type Factory interface {
	NewEncoder() Encoder
	NewDecoder() Decoder
	MaxSymbols() int
	SymbolSize() int
	// MaxPayloadSize is the fixed size of every payload WritePayload
	// produces and ReadPayload accepts.
	MaxPayloadSize() int
}

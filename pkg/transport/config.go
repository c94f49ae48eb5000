// Package transport implements the sender and receiver state machines of the
// transport: segmentation into coding generations, the encoder/decoder slot
// pipelines, paced fountain emission with rank feedback, and in-order record
// reassembly on the far side.
package transport

import (
	"time"

	golrtp "github.com/fountaincode/golrtp"
)

const (
	// Every datagram must fit a standard Ethernet payload
	maxDatagramSize = 1500

	// Symbol sizes below this are allowed (tests use tiny generations) but
	// waste header overhead; production deployments stay at or above it.
	recommendedSymbolSize = 512

	defaultMaxSymbols   = 256
	defaultSymbolSize   = 1024
	defaultWindow       = 5
	defaultPacerRate    = 400.0 // bytes/ms, inline repair budget
	defaultEncoderRate  = 210.0 // bytes/ms per encoder, one packet per ~5ms
	defaultLossRate     = 0.2
	defaultTickInterval = 100 * time.Microsecond
)

// Config carries the launch-time parameters shared by both endpoints.
// The zero value of any field selects its default.
type Config struct {
	MaxSymbols int // symbols per generation (K)
	SymbolSize int // bytes per symbol (S)
	Window     int // max open encoders on the sender (W)

	// PacerRate is the send-side budget, in bytes/ms, for in-line repair
	// emission. EncoderRate is the per-encoder fountain rate in bytes/ms.
	PacerRate   float64
	EncoderRate float64

	// InlineRepair front-loads repair packets next to each systematic
	// emission, weighted by the current loss estimate. When off, repair
	// comes only from the fountain phase.
	InlineRepair bool

	// WithESI selects the wire variant that carries a per-packet encoding
	// symbol index. The loss estimator needs it and stays at the initial
	// rate otherwise.
	WithESI bool

	// IntendedLen is the fixed total record length (payload + 2-byte
	// prefix) both endpoints agree on. Zero disables the fixed-size check
	// and allows variable-length records.
	IntendedLen int

	// InitialLossRate seeds the repair overhead before any feedback.
	InitialLossRate float64

	// Strict makes framing violations (wrong datagram size, malformed
	// record length) errors instead of counted drops.
	Strict bool

	// TickInterval is the sleep between worker loop ticks.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSymbols == 0 {
		c.MaxSymbols = defaultMaxSymbols
	}
	if c.SymbolSize == 0 {
		c.SymbolSize = defaultSymbolSize
	}
	if c.Window == 0 {
		c.Window = defaultWindow
	}
	if c.PacerRate == 0 {
		c.PacerRate = defaultPacerRate
	}
	if c.EncoderRate == 0 {
		c.EncoderRate = defaultEncoderRate
	}
	if c.InitialLossRate == 0 {
		c.InitialLossRate = defaultLossRate
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	return c
}

func (c Config) validate() error {
	if c.MaxSymbols < 1 || c.SymbolSize < 2 || c.Window < 1 {
		return golrtp.ErrIllegalArgument
	}
	if c.IntendedLen != 0 && (c.IntendedLen < 3 || c.IntendedLen > 0xffff) {
		return golrtp.ErrIllegalArgument
	}
	return nil
}

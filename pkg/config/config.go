// Package config loads endpoint configuration files. Transport parameters
// live in an INI file shared by both peers; traffic scenarios for the test
// harness come from YAML (see scenario.go).
package config

import (
	"fmt"
	"time"

	"github.com/fountaincode/golrtp/pkg/transport"
	"gopkg.in/ini.v1"
)

// Endpoint is the launch-time configuration of one transport endpoint.
type Endpoint struct {
	Transport transport.Config

	// DataAddr is the packet path: the peer to dial on the sender, the
	// local bind address on the receiver.
	DataAddr string
	// SignalAddr optionally separates the ack path: the receiver dials it
	// and sends its acks there. The transmitter reads acks only from its
	// data channel and does not use SignalAddr. Empty means acks share the
	// data socket.
	SignalAddr string

	LogLevel string
}

// Load reads an endpoint configuration from an INI file.
//
//	[transport]
//	max_symbols   = 256
//	symbol_size   = 1024
//	window        = 5
//	pacer_rate    = 400
//	encoder_rate  = 210
//	inline_repair = false
//	with_esi      = true
//	intended_len  = 1500
//	initial_loss  = 0.2
//	strict        = false
//	tick_us       = 100
//
//	[peer]
//	data   = 127.0.0.1:7777
//	signal =
//
//	[logging]
//	level = info
func Load(path string) (*Endpoint, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration %v : %w", path, err)
	}
	ep := &Endpoint{}

	tr := f.Section("transport")
	ep.Transport = transport.Config{
		MaxSymbols:      tr.Key("max_symbols").MustInt(0),
		SymbolSize:      tr.Key("symbol_size").MustInt(0),
		Window:          tr.Key("window").MustInt(0),
		PacerRate:       tr.Key("pacer_rate").MustFloat64(0),
		EncoderRate:     tr.Key("encoder_rate").MustFloat64(0),
		InlineRepair:    tr.Key("inline_repair").MustBool(false),
		WithESI:         tr.Key("with_esi").MustBool(false),
		IntendedLen:     tr.Key("intended_len").MustInt(0),
		InitialLossRate: tr.Key("initial_loss").MustFloat64(0),
		Strict:          tr.Key("strict").MustBool(false),
		TickInterval:    time.Duration(tr.Key("tick_us").MustInt(0)) * time.Microsecond,
	}

	peer := f.Section("peer")
	ep.DataAddr = peer.Key("data").String()
	ep.SignalAddr = peer.Key("signal").String()

	ep.LogLevel = f.Section("logging").Key("level").MustString("info")
	return ep, nil
}

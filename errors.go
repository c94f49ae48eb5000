package golrtp

import "errors"

var (
	ErrNoData          = errors.New("no datagram pending")
	ErrChannelClosed   = errors.New("channel is closed")
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrEmptyRecord     = errors.New("record carries no payload")
	ErrRecordTooLarge  = errors.New("record does not fit a 16-bit length prefix")
	ErrRecordLength    = errors.New("record length does not match the configured record size")
	ErrDatagramSize    = errors.New("datagram size does not match the wire layout")
	ErrReleased        = errors.New("endpoint already released")
)

// Package channel holds the registry of datagram channel drivers.
package channel

import (
	"fmt"

	golrtp "github.com/fountaincode/golrtp"
)

type NewChannelFunc func(address string) (golrtp.Channel, error)

var channelRegistry = make(map[string]NewChannelFunc)

// Register a new channel driver type.
// This should be called inside an init() function of the driver package.
func Register(kind string, newChannel NewChannelFunc) {
	channelRegistry[kind] = newChannel
}

// Open creates a channel of the given driver kind.
// Currently supported : udp, udp-listen
func Open(kind string, address string) (golrtp.Channel, error) {
	createChannel, ok := channelRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported channel kind : %v", kind)
	}
	return createChannel(address)
}

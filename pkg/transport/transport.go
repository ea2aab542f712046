// Package transport sends and receives best-effort, unordered datagrams.
//
// Packets may be dropped, duplicated or reordered. Callers must not rely on
// delivery, and no connection state is kept between packets.
package transport

// Packet is a received datagram.
type Packet struct {
	// Addr is the network address the packet was received from.
	Addr string
	Data []byte
}

type Transport interface {
	// WriteTo sends the packet to the given network address. A nil error
	// does not mean the packet was delivered.
	WriteTo(b []byte, addr string) error

	// Packets returns a channel of received packets. The channel is closed
	// when the transport is closed.
	Packets() <-chan *Packet

	// Addr returns the local network address.
	Addr() string

	Close() error
}

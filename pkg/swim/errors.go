package swim

import "errors"

var (
	// ErrProtocolViolation is returned when a packet arrives that the local
	// node must never receive given its NAT class, such as a relay envelope
	// on an open node.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnauthorizedRelay is returned when asked to relay to a node that
	// does not list the local node as a parent.
	ErrUnauthorizedRelay = errors.New("unauthorized relay")

	// ErrNoParents is returned when sending to a nated node with no known
	// parents.
	ErrNoParents = errors.New("no parents")

	// ErrInsufficientPeers is returned when fewer alive peers are known
	// than requested.
	ErrInsufficientPeers = errors.New("insufficient peers")

	// ErrClosed is returned when querying a closed node.
	ErrClosed = errors.New("closed")
)

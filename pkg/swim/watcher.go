package swim

// Watcher is used to receive notifications when the membership view changes.
//
// The implementations of Watcher must not block. Watcher is called from the
// event loop so must not call back to Swim.
type Watcher interface {
	// OnJoin notifies that a node joined, or rejoined with a higher
	// incarnation after being declared dead.
	OnJoin(addr PeerAddress)

	// OnSuspect notifies that a node is suspected of having failed.
	OnSuspect(id NodeID)

	// OnAlive notifies that a suspected node was found to be alive.
	OnAlive(id NodeID)

	// OnDead notifies that a node has been declared dead.
	OnDead(id NodeID)
}

type nopWatcher struct {
}

func newNopWatcher() *nopWatcher {
	return &nopWatcher{}
}

func (w *nopWatcher) OnJoin(_ PeerAddress) {}

func (w *nopWatcher) OnSuspect(_ NodeID) {}

func (w *nopWatcher) OnAlive(_ NodeID) {}

func (w *nopWatcher) OnDead(_ NodeID) {}

var _ Watcher = &nopWatcher{}

package hub

import "sync"

// Connectivity reports whether the host currently has network access.
// Changed returns a channel that is closed on the next offline→online
// transition; a nil channel means no signal is available.
type Connectivity interface {
	Online() bool
	Changed() <-chan struct{}
}

// AlwaysOnline is the default when no network signal is wired.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool             { return true }
func (AlwaysOnline) Changed() <-chan struct{} { return nil }

// NetworkMonitor is a settable Connectivity, fed by whatever platform signal
// the host has.
type NetworkMonitor struct {
	mu      sync.Mutex
	online  bool
	changed chan struct{}
}

// NewNetworkMonitor creates a monitor with the given initial state.
func NewNetworkMonitor(online bool) *NetworkMonitor {
	return &NetworkMonitor{
		online:  online,
		changed: make(chan struct{}),
	}
}

func (n *NetworkMonitor) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.online
}

func (n *NetworkMonitor) Changed() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.changed
}

// SetOnline records the network state and wakes waiters when coming online.
func (n *NetworkMonitor) SetOnline(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasOnline := n.online
	n.online = online
	if online && !wasOnline {
		close(n.changed)
		n.changed = make(chan struct{})
	}
}

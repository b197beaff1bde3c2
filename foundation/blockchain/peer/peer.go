// Package peer maintains the peer related information such as the set
// of known peers and their status.
package peer

import (
	"sync"
)

// Peer represents what is known locally about a node in the network. Its
// lifetime is bound to the transport: closure removes it from the roster.
type Peer struct {
	Host            string
	NodeID          string
	ProtocolVersion uint32
	NetworkID       uint64
	BestHash        string
	GenesisHash     string
	TotalDifficulty uint64
}

// New constructs a new peer value identified by host.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// Status represents the information a peer reports about itself, as
// carried in a STATUS message and mirrored by this node's own status.
type Status struct {
	NodeID          string `json:"node_id"`
	ProtocolVersion uint32 `json:"protocol_version"`
	NetworkID       uint64 `json:"network_id"`
	BestHash        string `json:"best_hash"`
	GenesisHash     string `json:"genesis_hash"`
	TotalDifficulty uint64 `json:"total_difficulty"`
	KnownPeers      []Peer `json:"known_peers"`
}

// =============================================================================

// Set maintains a thread-safe roster of known peers, keyed by host so that
// STATUS updates can mutate a peer's reported metadata in place.
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewSet constructs a new set to manage node peer information.
func NewSet() *Set {
	return &Set{
		set: make(map[string]Peer),
	}
}

// Add adds a new peer to the set. Returns false if the host was already
// known.
func (ps *Set) Add(p Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[p.Host]
	ps.set[p.Host] = p

	return !exists
}

// Update overwrites the status fields for a known peer, leaving it
// unchanged if the host isn't in the roster. Returns false if the peer is
// unknown.
func (ps *Set) Update(host string, status Status) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, exists := ps.set[host]
	if !exists {
		return false
	}

	p.NodeID = status.NodeID
	p.ProtocolVersion = status.ProtocolVersion
	p.NetworkID = status.NetworkID
	p.BestHash = status.BestHash
	p.GenesisHash = status.GenesisHash
	p.TotalDifficulty = status.TotalDifficulty
	ps.set[host] = p

	return true
}

// Remove removes a peer from the set.
func (ps *Set) Remove(host string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, host)
}

// Get returns the peer known for host, if any.
func (ps *Set) Get(host string) (Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	p, ok := ps.set[host]
	return p, ok
}

// Copy returns the known peers, excluding the given host. Passing an empty
// host returns every known peer.
func (ps *Set) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for h, p := range ps.set {
		if h != host {
			peers = append(peers, p)
		}
	}

	return peers
}

// BestTotalDifficulty returns the highest total difficulty reported by any
// known peer, and whether any peer is known at all.
func (ps *Set) BestTotalDifficulty() (uint64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var best uint64
	var found bool
	for _, p := range ps.set {
		if !found || p.TotalDifficulty > best {
			best = p.TotalDifficulty
			found = true
		}
	}

	return best, found
}

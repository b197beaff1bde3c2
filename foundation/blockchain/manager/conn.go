package manager

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/proofchain/powchain/foundation/blockchain/dispatcher"
	"github.com/proofchain/powchain/foundation/blockchain/peer"
	"github.com/proofchain/powchain/foundation/blockchain/wire"
)

// blockSyncBatchSize is how many block bodies are requested per GET_BLOCKS
// round while walking forward from a found common ancestor.
const blockSyncBatchSize = 50

// wireFrame is one outbound message queued for a peer's writer goroutine.
type wireFrame struct {
	code    wire.Code
	payload any
}

// peerConn wraps one live connection to a peer: a buffered outbound queue
// drained by its own writer goroutine, and a closed signal shared between
// the writer and reader so either side tears the connection down cleanly.
type peerConn struct {
	host string
	conn net.Conn

	send   chan wireFrame
	closed chan struct{}
	once   sync.Once
}

func newPeerConn(host string, conn net.Conn) *peerConn {
	return &peerConn{
		host:   host,
		conn:   conn,
		send:   make(chan wireFrame, 64),
		closed: make(chan struct{}),
	}
}

func (pc *peerConn) close() {
	pc.once.Do(func() {
		close(pc.closed)
		pc.conn.Close()
	})
}

// =============================================================================

// Listen starts accepting inbound peer connections on addr. It returns once
// the listener is bound; Accept runs on its own goroutine for the life of
// the manager.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	m.listener = ln

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			m.registerConn(newPeerConn(conn.RemoteAddr().String(), conn))
		}
	}()

	return nil
}

// Dial opens an outbound connection to host and registers it the same way
// an accepted connection is registered.
func (m *Manager) Dial(host string) error {
	conn, err := net.Dial("tcp", host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}

	m.registerConn(newPeerConn(host, conn))
	return nil
}

// DialKnownPeers dials every peer currently in the roster. It's meant to be
// called once after Listen, to bootstrap from a node's configured seed
// peers; peers learned later via NODES are reached only when they dial us
// or are dialed explicitly.
func (m *Manager) DialKnownPeers() {
	for _, p := range m.peers.Copy("") {
		if err := m.Dial(p.Host); err != nil {
			m.evHandler("manager: DialKnownPeers: peer[%s]: %s", p.Host, err)
		}
	}
}

// registerConn starts a connection's reader and writer goroutines and hands
// it to the manager goroutine to add to the roster.
func (m *Manager) registerConn(pc *peerConn) {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.writeLoop(pc)
	}()
	go func() {
		defer m.wg.Done()
		m.readLoop(pc)
	}()

	select {
	case m.connEvents <- connEvent{add: pc}:
	case <-m.done:
		pc.close()
	}
}

func (m *Manager) writeLoop(pc *peerConn) {
	for {
		select {
		case frame := <-pc.send:
			if err := wire.Encode(pc.conn, frame.code, frame.payload); err != nil {
				m.evHandler("manager: writeLoop: peer[%s]: %s", pc.host, err)
				pc.close()
				return
			}

		case <-pc.closed:
			return
		}
	}
}

func (m *Manager) readLoop(pc *peerConn) {
	r := bufio.NewReader(pc.conn)

	for {
		env, err := wire.Decode(r)
		if err != nil {
			select {
			case m.connEvents <- connEvent{remove: pc.host}:
			case <-m.done:
			}
			pc.close()
			return
		}

		select {
		case m.inbound <- inboundMsg{env: env, from: peer.Peer{Host: pc.host}}:
		case <-pc.closed:
			return
		case <-m.done:
			return
		}
	}
}

// applyConnEvent adds or removes a connection from the roster. It only
// ever runs on the manager's own goroutine.
func (m *Manager) applyConnEvent(ev connEvent) {
	if ev.add != nil {
		m.connsMu.Lock()
		m.conns[ev.add.host] = ev.add
		m.connsMu.Unlock()

		m.peers.Add(peer.New(ev.add.host))

		if err := m.Send(peer.Peer{Host: ev.add.host}, wire.Status, m.Status()); err != nil {
			m.evHandler("manager: applyConnEvent: peer[%s]: status send: %s", ev.add.host, err)
		}
		return
	}

	m.connsMu.Lock()
	pc, ok := m.conns[ev.remove]
	delete(m.conns, ev.remove)
	m.connsMu.Unlock()

	if ok {
		pc.close()
	}
	m.peers.Remove(ev.remove)
}

// syncPeers refreshes this node's view of every connected peer by resending
// our STATUS and asking for their known nodes, mirroring the teacher's
// periodic worker.sync poll.
func (m *Manager) syncPeers() {
	m.connsMu.RLock()
	hosts := make([]string, 0, len(m.conns))
	for h := range m.conns {
		hosts = append(hosts, h)
	}
	m.connsMu.RUnlock()

	status := m.Status()
	for _, h := range hosts {
		to := peer.Peer{Host: h}
		if err := m.Send(to, wire.Status, status); err != nil {
			m.evHandler("manager: syncPeers: peer[%s]: status: %s", h, err)
			continue
		}
		if err := m.Send(to, wire.GetNodes, struct{}{}); err != nil {
			m.evHandler("manager: syncPeers: peer[%s]: get nodes: %s", h, err)
		}
	}
}

// =============================================================================

// Send implements dispatcher.Transport, queuing a framed message for
// delivery to a single connected peer.
func (m *Manager) Send(to peer.Peer, code wire.Code, payload any) error {
	m.connsMu.RLock()
	pc, ok := m.conns[to.Host]
	m.connsMu.RUnlock()

	if !ok {
		return fmt.Errorf("not connected to peer %s", to.Host)
	}

	select {
	case pc.send <- wireFrame{code: code, payload: payload}:
		return nil
	case <-pc.closed:
		return fmt.Errorf("connection to %s closed", to.Host)
	}
}

// Broadcast implements dispatcher.Transport, fanning a message out to every
// connected peer except excludeHost. A peer whose outbound queue is full is
// skipped rather than blocking the whole broadcast.
func (m *Manager) Broadcast(code wire.Code, payload any, excludeHost string) {
	m.connsMu.RLock()
	defer m.connsMu.RUnlock()

	for host, pc := range m.conns {
		if host == excludeHost {
			continue
		}

		select {
		case pc.send <- wireFrame{code: code, payload: payload}:
		case <-pc.closed:
		default:
			m.evHandler("manager: Broadcast: peer[%s]: outbound queue full, dropping", host)
		}
	}
}

// =============================================================================

// RequestHeaders implements sync.Requester.
func (m *Manager) RequestHeaders(p peer.Peer, from, count uint64) error {
	return m.Send(p, wire.GetBlockHeaders, dispatcher.BlockRangePayload{From: from, Count: count})
}

// RequestBlocks implements sync.Requester.
func (m *Manager) RequestBlocks(p peer.Peer, from uint64) error {
	return m.Send(p, wire.GetBlocks, dispatcher.BlockRangePayload{From: from, Count: blockSyncBatchSize})
}

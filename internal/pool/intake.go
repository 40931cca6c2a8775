package pool

import (
	"net"

	"github.com/derinil/bittorrent/internal/peer"
)

// handshakeResult is what an intake worker reports on join: either a
// handshaken Peer ready to join the active list, or a failed endpoint to
// return to the backlog (spec.md §4.4's intake step). priorAttempts is the
// failure count the endpoint already carried before this attempt; inbound
// marks a connection accepted by the listener, which is never re-dialed
// since its source port isn't the peer's listening port.
type handshakeResult struct {
	p             *peer.Peer
	endpoint      peer.Endpoint
	priorAttempts int
	inbound       bool
	err           error
}

// refillFromBacklog tops the active set up to MaxConnections from the
// backlog, one intake worker per peer, only while pieces remain (spec.md
// §4.4: "refills the active set from the backlog up to MAX_CONNECTIONS
// only while there are still missing pieces").
func (p *Pool) refillFromBacklog() {
	if p.Complete() {
		return
	}
	for len(p.active)+p.connecting < p.cfg.MaxConnections && len(p.backlog) > 0 {
		entry := p.backlog[0]
		p.backlog = p.backlog[1:]
		p.connecting++
		go p.dialAndHandshake(entry.endpoint, entry.attempts)
	}
}

func (p *Pool) dialAndHandshake(endpoint peer.Endpoint, priorAttempts int) {
	pe, err := peer.Dial(endpoint, p.cfg.ConnectTimeout, p.cfg.RateWindow)
	if err == nil {
		err = pe.Handshake(p.peerID, p.tor.InfoHash, p.cfg.ConnectTimeout)
	}
	if err != nil {
		p.handshakeResultC <- handshakeResult{endpoint: endpoint, priorAttempts: priorAttempts, err: err}
		return
	}
	pe.NumPieces = p.tor.PieceCount()
	p.handshakeResultC <- handshakeResult{p: pe, endpoint: endpoint, priorAttempts: priorAttempts}
}

// acceptInbound wraps an inbound connection from the listener as a
// pre-handshake Peer and runs the same handshake step as an outbound dial
// (spec.md §4.5: "the accepting path is symmetric to dial-out").
func (p *Pool) acceptInbound(conn net.Conn) {
	if len(p.active)+p.connecting >= p.cfg.MaxConnections {
		conn.Close()
		return
	}
	p.connecting++
	go func() {
		pe := peer.Accept(conn, p.cfg.RateWindow)
		if err := pe.Handshake(p.peerID, p.tor.InfoHash, p.cfg.ConnectTimeout); err != nil {
			p.handshakeResultC <- handshakeResult{endpoint: pe.Endpoint, inbound: true, err: err}
			return
		}
		pe.NumPieces = p.tor.PieceCount()
		p.handshakeResultC <- handshakeResult{p: pe, inbound: true}
	}()
}

func (p *Pool) handleHandshakeResult(r handshakeResult) {
	p.connecting--
	if r.err != nil {
		if !r.inbound {
			p.demoteEndpoint(r.endpoint, r.priorAttempts)
		}
		p.log.WithError(r.err).Debugln("handshake failed")
		return
	}
	if err := r.p.SendBitfield(p.Bitfield().Bytes(), p.cfg.KeepAlive); err != nil {
		if !r.inbound {
			p.demoteEndpoint(r.endpoint, r.priorAttempts)
		}
		return
	}
	p.active = append(p.active, r.p)
	p.emit("peer " + r.p.Endpoint.String() + " connected")
}

// demoteEndpoint returns endpoint to the backlog with its failure count
// incremented past priorAttempts, dropping it permanently once the count
// reaches MaxFailedAttempts (spec.md §4.4, §8: "a peer with
// failed_attempts >= 5 is never present in the backlog").
func (p *Pool) demoteEndpoint(endpoint peer.Endpoint, priorAttempts int) {
	attempts := priorAttempts + 1
	if attempts >= p.cfg.MaxFailedAttempts {
		p.emit("peer " + endpoint.String() + " dropped after too many failed attempts")
		return
	}
	p.backlog = append(p.backlog, backlogEntry{endpoint: endpoint, attempts: attempts})
	p.emit("peer " + endpoint.String() + " returned to backlog")
}

// demotePeer returns an active session to the backlog after an I/O error
// or policy violation, closing its connection first (spec.md §4.4, §7).
func (p *Pool) demotePeer(pe *peer.Peer) {
	p.removeActive(pe)
	pe.Close()
	p.demoteEndpoint(pe.Endpoint, pe.FailedAttempts)
}

// dropPeer removes an active session permanently without returning it to
// the backlog (keep-alive eviction: spec.md §4.4, §8's scenario 6 — "not
// retried within the backlog until the next tracker re-announce").
func (p *Pool) dropPeer(pe *peer.Peer) {
	p.removeActive(pe)
	pe.Close()
}

func (p *Pool) removeActive(pe *peer.Peer) {
	for i, a := range p.active {
		if a == pe {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	for idx, assigned := range p.assignedTo {
		if assigned == pe {
			delete(p.inProgress, idx)
			delete(p.assignedTo, idx)
		}
	}
	delete(p.busy, pe)
}

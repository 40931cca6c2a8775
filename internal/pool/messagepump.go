package pool

import (
	"github.com/derinil/bittorrent/internal/peer"
)

// pumpResult is what a message-pump worker reports on join: the peer is
// returned alive, or ok=false if an I/O error or keep-alive violation
// should demote it (spec.md §4.4: "any I/O error or keep-alive violation
// returns the peer to the backlog").
type pumpResult struct {
	p  *peer.Peer
	ok bool
}

// pumpMessages drains every readable active peer: for each session with
// has_data() true, repeatedly applies the message handler until no more
// buffered data is available (spec.md §4.4's message pump step). The
// has_data() peek runs synchronously on the pool goroutine, since the peer
// is not yet claimed and the pool is the only other thing that could touch
// it; a peer is only claimed, and handed to a drain worker goroutine, once
// it actually has something to read. This leaves idle peers free for the
// same cycle's piece selection instead of monopolizing every active peer
// on every cycle.
func (p *Pool) pumpMessages() {
	var toDemote []*peer.Peer
	for _, pe := range p.active {
		if _, busy := p.busy[pe]; busy {
			continue
		}
		has, err := pe.HasData(p.cfg.KeepAlive)
		if err != nil {
			toDemote = append(toDemote, pe)
			continue
		}
		if !has {
			continue
		}
		if !p.tryClaim(pe) {
			continue
		}
		pe := pe
		go p.drainPeer(pe)
	}
	// Demoted only after the range over p.active completes: demotePeer
	// removes its argument from p.active, which must not happen while
	// p.active is still being iterated.
	for _, pe := range toDemote {
		p.demotePeer(pe)
	}
}

func (p *Pool) drainPeer(pe *peer.Peer) {
	for {
		has, err := pe.HasData(p.cfg.KeepAlive)
		if err != nil {
			p.pumpResultC <- pumpResult{p: pe, ok: false}
			return
		}
		if !has {
			p.pumpResultC <- pumpResult{p: pe, ok: true}
			return
		}
		msg, err := pe.ReceiveMessage(p.cfg.KeepAlive)
		if err != nil {
			p.pumpResultC <- pumpResult{p: pe, ok: false}
			return
		}
		if err := pe.ApplyMessage(msg); err != nil {
			p.pumpResultC <- pumpResult{p: pe, ok: false}
			return
		}
	}
}

func (p *Pool) handlePumpResult(r pumpResult) {
	p.release(r.p)
	if !r.ok {
		p.demotePeer(r.p)
	}
}

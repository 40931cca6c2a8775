package pool

import "github.com/derinil/bittorrent/internal/peer"

// evictSilentPeers drops any active peer whose last_message_at is older
// than KeepAlive, per spec.md §4.4/§8: "the absence of any message
// (including keep-alives sent by the peer) counts as silence." A peer
// currently owned by an in-flight worker is left alone; that worker's own
// I/O will eventually time out and demote it instead.
func (p *Pool) evictSilentPeers() {
	var silent []*peer.Peer
	for _, pe := range p.active {
		if _, busy := p.busy[pe]; busy {
			continue
		}
		if pe.Silent(p.cfg.KeepAlive) {
			silent = append(silent, pe)
		}
	}
	for _, pe := range silent {
		p.emit("peer " + pe.Endpoint.String() + " silent, evicting")
		p.dropPeer(pe)
	}
}

package pool

import (
	"github.com/derinil/bittorrent/internal/block"
	"github.com/derinil/bittorrent/internal/peer"
)

// uploadResult is what an upload worker reports on join.
type uploadResult struct {
	p     *peer.Peer
	bytes int64
	ok    bool
}

// sweepUploads spawns one worker per active session that is
// !peer_choked && peer_interested && has at least one queued Request for a
// piece we own; the worker serves every such Block in the queue (spec.md
// §4.4's upload step). The peer is claimed before its pending-request queue
// is touched at all: PendingRequests is also appended to by that peer's own
// message-pump drain worker (ApplyMessage -> EnqueueRequest), so reading or
// draining it without first owning the peer would be an unsynchronized
// concurrent slice mutation (spec.md §5).
func (p *Pool) sweepUploads() {
	for _, pe := range p.active {
		if pe.PeerChoked || !pe.PeerInterested {
			continue
		}
		if !p.tryClaim(pe) {
			continue
		}
		queue := pe.TakePendingRequests()
		var servable, notYetOwned []block.Block
		for _, b := range queue {
			if _, ok := p.owned[b.PieceIndex]; ok {
				servable = append(servable, b)
			} else {
				notYetOwned = append(notYetOwned, b)
			}
		}
		for _, b := range notYetOwned {
			pe.EnqueueRequest(b)
		}
		if len(servable) == 0 {
			p.release(pe)
			continue
		}
		pe := pe
		go p.uploadBlocks(pe, servable)
	}
}

func (p *Pool) uploadBlocks(pe *peer.Peer, blocks []block.Block) {
	var sent int64
	for _, b := range blocks {
		data := make([]byte, b.Length)
		if err := p.out.ReadAt(data, p.tor.PieceOffset(b.PieceIndex)+int64(b.Begin)); err != nil {
			p.uploadResultC <- uploadResult{p: pe, bytes: sent, ok: false}
			return
		}
		if err := pe.SendPiece(b.PieceIndex, b.Begin, data, p.cfg.KeepAlive); err != nil {
			p.uploadResultC <- uploadResult{p: pe, bytes: sent, ok: false}
			return
		}
		sent += int64(len(data))
	}
	p.uploadResultC <- uploadResult{p: pe, bytes: sent, ok: true}
}

func (p *Pool) handleUploadResult(r uploadResult) {
	p.release(r.p)
	p.bytesUploaded += r.bytes
	if !r.ok {
		p.demotePeer(r.p)
	}
}

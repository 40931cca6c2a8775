package pool

import (
	"strconv"

	"github.com/derinil/bittorrent/internal/peer"
	"github.com/derinil/bittorrent/internal/piece"
)

// haveResult is what a Have-broadcast worker reports on join.
type haveResult struct {
	p *peer.Peer
}

// selectPieces implements spec.md §4.4's piece-selection step: for each
// active, unchoked peer owning at least one piece in piecesLeft, send
// Interested (if not already), assign it the first unassigned piece in its
// intersection with piecesLeft, reserve that piece in_progress, and spawn
// a download worker. Peers with no useful piece are transitioned to
// NotInterested.
func (p *Pool) selectPieces() {
	left := p.piecesLeft()
	if len(left) == 0 {
		return
	}
	for _, pe := range p.active {
		if _, busy := p.busy[pe]; busy {
			continue
		}
		candidate, ok := firstUsefulPiece(pe, left)
		if !ok {
			if err := pe.SetInterested(false, p.cfg.KeepAlive); err != nil {
				p.log.WithError(err).Debugln("set not-interested failed")
			}
			continue
		}
		if err := pe.SetInterested(true, p.cfg.KeepAlive); err != nil {
			p.log.WithError(err).Debugln("set interested failed")
			continue
		}
		if pe.AmChoked {
			// Invariant (spec.md §8): no Request is issued while am_choked.
			continue
		}
		p.inProgress[candidate] = struct{}{}
		p.assignedTo[candidate] = pe
		delete(left, candidate)
		p.tryClaim(pe)
		go p.downloadPiece(pe, candidate)
	}
}

func firstUsefulPiece(pe *peer.Peer, left map[int]struct{}) (int, bool) {
	best := -1
	for i := range left {
		if !pe.HasPiece(i) {
			continue
		}
		if best == -1 || i < best {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (p *Pool) downloadPiece(pe *peer.Peer, index int) {
	length := p.tor.PieceLen(index)
	result := piece.Download(pe, index, length, p.cfg.BlockSize, p.cfg.KeepAlive)
	p.downloadResultC <- result
}

// handleDownloadResult verifies and persists a finished download worker's
// result, or returns the piece to the pool unowned and the peer to the
// backlog on failure or integrity mismatch (spec.md §4.4).
func (p *Pool) handleDownloadResult(r piece.Result) {
	delete(p.inProgress, r.PieceIndex)
	delete(p.assignedTo, r.PieceIndex)
	p.release(r.Peer)

	if !r.OK {
		p.demotePeer(r.Peer)
		return
	}
	if !p.verifyPiece(r.PieceIndex, r.Data) {
		p.log.Warnf("piece %d failed integrity check", r.PieceIndex)
		p.demotePeer(r.Peer)
		return
	}
	if err := p.out.WriteAt(r.Data, p.tor.PieceOffset(r.PieceIndex)); err != nil {
		p.log.WithError(err).Errorln("write piece failed")
		p.demotePeer(r.Peer)
		return
	}
	if err := p.out.Sync(); err != nil {
		p.log.WithError(err).Errorln("flush piece failed")
		p.demotePeer(r.Peer)
		return
	}
	p.owned[r.PieceIndex] = struct{}{}
	p.bytesDownloaded += int64(len(r.Data))
	p.emit("piece " + strconv.Itoa(r.PieceIndex) + " complete")
	if p.OnPieceComplete != nil {
		p.OnPieceComplete(r.PieceIndex)
	}

	p.broadcastHave(r.PieceIndex)
}

// broadcastHave spawns one worker per active peer to send Have(index),
// per spec.md §4.4's "broadcast a Have(piece_index) to every active peer
// via per-peer worker tasks".
func (p *Pool) broadcastHave(index int) {
	for _, pe := range p.active {
		if !p.tryClaim(pe) {
			continue
		}
		pe := pe
		go func() {
			if err := pe.SendHave(index, p.cfg.KeepAlive); err != nil {
				p.log.WithError(err).Debugln("have broadcast failed")
			}
			p.haveResultC <- haveResult{p: pe}
		}()
	}
}

func (p *Pool) handleHaveResult(r haveResult) {
	p.release(r.p)
}

package peer

import (
	"fmt"

	"github.com/derinil/bittorrent/internal/block"
	"github.com/derinil/bittorrent/internal/bterrors"
	"github.com/derinil/bittorrent/internal/peerprotocol"
)

// ApplyMessage dispatches one received message against this peer's own
// state (spec.md §4.4's per-message handler). It never touches pool-wide
// bookkeeping: Have/Bitfield/Choke/Interested/Request/Cancel/Port only
// mutate fields owned by this Peer, and Piece only appends to this Peer's
// downloaded-block buffer. The pool layer reacts to the return value
// (e.g. broadcasting Have after a piece verifies) separately. msg == nil
// denotes a keep-alive, which only updates LastMessageAt (already done by
// ReceiveMessage) and is a no-op here.
func (p *Peer) ApplyMessage(msg *peerprotocol.Message) error {
	if msg == nil {
		return nil
	}
	switch msg.ID {
	case peerprotocol.Choke:
		p.AmChoked = true
	case peerprotocol.Unchoke:
		p.AmChoked = false
	case peerprotocol.Interested:
		p.PeerInterested = true
	case peerprotocol.NotInterested:
		p.PeerInterested = false
	case peerprotocol.Have:
		h, err := peerprotocol.DecodeHave(msg.Payload)
		if err != nil {
			return bterrors.New(bterrors.Format, err)
		}
		p.AddHave(int(h.Index))
	case peerprotocol.BitfieldID:
		bits := msg.Payload
		if p.NumPieces > 0 {
			var err error
			bits, err = peerprotocol.DecodeBitfield(msg.Payload, p.NumPieces)
			if err != nil {
				return bterrors.New(bterrors.Format, err)
			}
		}
		p.UseBitfield(bits)
	case peerprotocol.Request:
		r, err := peerprotocol.DecodeRequest(msg.Payload)
		if err != nil {
			return bterrors.New(bterrors.Format, err)
		}
		p.EnqueueRequest(block.Block{PieceIndex: int(r.Index), Begin: r.Begin, Length: r.Length})
	case peerprotocol.Piece:
		pm, err := peerprotocol.DecodePiece(msg.Payload)
		if err != nil {
			return bterrors.New(bterrors.Format, err)
		}
		p.AppendDownloadedBlock(block.Download{PieceIndex: int(pm.Index), Begin: pm.Begin, Data: pm.Data})
	case peerprotocol.Cancel:
		r, err := peerprotocol.DecodeRequest(msg.Payload)
		if err != nil {
			return bterrors.New(bterrors.Format, err)
		}
		p.CancelRequest(block.Block{PieceIndex: int(r.Index), Begin: r.Begin, Length: r.Length})
	case peerprotocol.Port:
		// DHT is out of scope (spec.md §1); ignored.
	default:
		return bterrors.New(bterrors.Format, fmt.Errorf("peer: unhandled message id %s", msg.ID))
	}
	return nil
}

package peer

import (
	"time"

	"github.com/derinil/bittorrent/internal/block"
	"github.com/derinil/bittorrent/internal/bterrors"
	"github.com/derinil/bittorrent/internal/peerprotocol"
)

// send writes raw framed bytes atomically under the keep-alive-matching
// write deadline (spec.md §4.3).
func (p *Peer) send(raw []byte, keepAlive time.Duration) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(keepAlive)); err != nil {
		return bterrors.New(bterrors.Transport, err)
	}
	if _, err := p.conn.Write(raw); err != nil {
		return bterrors.New(bterrors.Transport, err)
	}
	return nil
}

// SendKeepAlive transmits a zero-length keep-alive message.
func (p *Peer) SendKeepAlive(keepAlive time.Duration) error {
	return p.send(peerprotocol.MarshalKeepAlive(), keepAlive)
}

// sendID transmits a payload-less message with the given id (Choke,
// Unchoke, Interested or NotInterested).
func (p *Peer) sendID(id peerprotocol.ID, keepAlive time.Duration) error {
	return p.send(peerprotocol.Marshal(id, nil), keepAlive)
}

// SetInterested transmits Interested/NotInterested only if our stored
// am_interested flag differs from b, then updates the flag (spec.md §4.3).
func (p *Peer) SetInterested(b bool, keepAlive time.Duration) error {
	if p.AmInterested == b {
		return nil
	}
	id := peerprotocol.NotInterested
	if b {
		id = peerprotocol.Interested
	}
	if err := p.sendID(id, keepAlive); err != nil {
		return err
	}
	p.AmInterested = b
	return nil
}

// SetChoked transmits Choke/Unchoke (peer-facing) only if our stored
// peer_choked flag differs from b, then updates the flag (spec.md §4.3).
func (p *Peer) SetChoked(b bool, keepAlive time.Duration) error {
	if p.PeerChoked == b {
		return nil
	}
	id := peerprotocol.Unchoke
	if b {
		id = peerprotocol.Choke
	}
	if err := p.sendID(id, keepAlive); err != nil {
		return err
	}
	p.PeerChoked = b
	return nil
}

// SendHave transmits a Have message for piece index i.
func (p *Peer) SendHave(i int, keepAlive time.Duration) error {
	return p.send(peerprotocol.MarshalHave(uint32(i)), keepAlive)
}

// SendBitfield transmits our Bitfield.
func (p *Peer) SendBitfield(bits []byte, keepAlive time.Duration) error {
	return p.send(peerprotocol.MarshalBitfield(bits), keepAlive)
}

// SendRequest transmits a Request for b.
func (p *Peer) SendRequest(b block.Block, keepAlive time.Duration) error {
	return p.send(peerprotocol.MarshalRequest(peerprotocol.Request, peerprotocol.RequestMessage{
		Index: uint32(b.PieceIndex), Begin: b.Begin, Length: b.Length,
	}), keepAlive)
}

// SendCancel transmits a Cancel for b.
func (p *Peer) SendCancel(b block.Block, keepAlive time.Duration) error {
	return p.send(peerprotocol.MarshalRequest(peerprotocol.Cancel, peerprotocol.RequestMessage{
		Index: uint32(b.PieceIndex), Begin: b.Begin, Length: b.Length,
	}), keepAlive)
}

// SendPiece transmits a Piece message carrying data.
func (p *Peer) SendPiece(pieceIndex int, begin uint32, data []byte, keepAlive time.Duration) error {
	err := p.send(peerprotocol.MarshalPiece(peerprotocol.PieceMessage{
		Index: uint32(pieceIndex), Begin: begin, Data: data,
	}), keepAlive)
	if err != nil {
		return err
	}
	p.LogMovement(int64(len(data)), Upload)
	return nil
}

// ReceiveMessage reads one framed message to completion under the
// keep-alive-matching read deadline, recording LastMessageAt on any
// successful read including a keep-alive (spec.md §4.3, §4.4).
func (p *Peer) ReceiveMessage(keepAlive time.Duration) (*peerprotocol.Message, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(keepAlive)); err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	msg, err := peerprotocol.Read(p.r)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	p.LastMessageAt = time.Now()
	return msg, nil
}

// HasData peeks at the socket under a transient short deadline and
// restores the session's normal deadline afterward, reporting whether
// buffered bytes are available without consuming them (spec.md §4.3's only
// suspension-free operation). A timeout means no data is ready; any other
// error is a real transport failure.
func (p *Peer) HasData(keepAlive time.Duration) (bool, error) {
	if err := p.conn.SetReadDeadline(time.Now()); err != nil {
		return false, bterrors.New(bterrors.Transport, err)
	}
	_, err := p.r.Peek(1)
	// Restore the blocking-equivalent deadline regardless of outcome.
	if resetErr := p.conn.SetReadDeadline(time.Now().Add(keepAlive)); resetErr != nil {
		return false, bterrors.New(bterrors.Transport, resetErr)
	}
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return false, nil
	}
	return false, bterrors.New(bterrors.Transport, err)
}

package peer

import (
	"net"
	"time"

	"github.com/derinil/bittorrent/internal/bterrors"
	"github.com/derinil/bittorrent/internal/peerprotocol"
)

// Dial opens a TCP connection to endpoint with the given connect timeout
// (spec.md §4.3) and wraps it as a fresh, pre-handshake Peer.
func Dial(endpoint Endpoint, connectTimeout, rateWindow time.Duration) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", endpoint.String(), connectTimeout)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	return New(endpoint, conn, rateWindow), nil
}

// Accept wraps an already-accepted inbound connection as a fresh,
// pre-handshake Peer (spec.md §4.5). The Endpoint records the remote
// address's IP and source port; that port is not known to be the peer's
// listening port.
func Accept(conn net.Conn, rateWindow time.Duration) *Peer {
	tcpAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	ep := Endpoint{}
	if tcpAddr != nil {
		ep = Endpoint{IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}
	}
	return New(ep, conn, rateWindow)
}

// Handshake writes our handshake, reads the remote's handshake, validates
// it against expectedInfoHash, and records the remote peer id (spec.md
// §4.1, §4.3). It applies the read/write timeout used throughout the
// session.
func (p *Peer) Handshake(ourPeerID [20]byte, infoHash [20]byte, timeout time.Duration) error {
	if err := p.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return bterrors.New(bterrors.Transport, err)
	}
	hs := peerprotocol.Handshake{InfoHash: infoHash, PeerID: ourPeerID}
	if _, err := p.conn.Write(hs.Marshal()); err != nil {
		return bterrors.New(bterrors.Transport, err)
	}
	got, err := peerprotocol.ReadHandshake(p.r, infoHash)
	if err != nil {
		return bterrors.New(bterrors.Handshake, err)
	}
	p.PeerID = got.PeerID
	p.HasPeerID = true
	p.LastMessageAt = time.Now()
	return nil
}

// ApplySessionTimeouts sets the 120-second read/write timeout that matches
// the keep-alive window (spec.md §4.3), to be used for every operation
// after the handshake.
func (p *Peer) ApplySessionTimeouts(keepAlive time.Duration) error {
	if err := p.conn.SetDeadline(time.Now().Add(keepAlive)); err != nil {
		return bterrors.New(bterrors.Transport, err)
	}
	return nil
}

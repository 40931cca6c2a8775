package peerprotocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	protocolString = "BitTorrent protocol"
	// HandshakeLen is the fixed length of a handshake frame (spec.md §4.1).
	HandshakeLen = 49 + len(protocolString)
)

// Handshake is the fixed 68-byte frame exchanged before any messages.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Marshal returns the wire bytes for hs.
func (hs Handshake) Marshal() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolString))
	copy(buf[1:], protocolString)
	// 8 reserved bytes are left zeroed; no extension is negotiated.
	copy(buf[1+len(protocolString)+8:], hs.InfoHash[:])
	copy(buf[1+len(protocolString)+8+20:], hs.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake frame from r, per spec.md
// §4.1: length prefix must be 19, the protocol string must match, and the
// received info hash must equal expectedInfoHash.
func ReadHandshake(r io.Reader, expectedInfoHash [20]byte) (*Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("peerprotocol: read handshake: %w", err)
	}
	if int(buf[0]) != len(protocolString) {
		return nil, errors.New("peerprotocol: invalid protocol string length")
	}
	if string(buf[1:1+len(protocolString)]) != protocolString {
		return nil, errors.New("peerprotocol: protocol string mismatch")
	}
	var hs Handshake
	copy(hs.InfoHash[:], buf[1+len(protocolString)+8:1+len(protocolString)+8+20])
	copy(hs.PeerID[:], buf[1+len(protocolString)+28:1+len(protocolString)+48])
	if hs.InfoHash != expectedInfoHash {
		return nil, errors.New("peerprotocol: info hash mismatch")
	}
	return &hs, nil
}

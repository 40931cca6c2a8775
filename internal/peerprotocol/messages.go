// Package peerprotocol implements the wire codec: handshake framing and
// length-prefixed message framing (spec.md §4.1), grounded on the framing
// shape of StupidAfCoder-GoRent's message package (Serialize/ReadMessage)
// and the Piece-message split of the teacher's peerreader.Piece type.
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ID identifies a message kind.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	BitfieldID
	Request
	Piece
	Cancel
	Port
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case BitfieldID:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a raw, framed peer message: an id plus its undecoded payload.
// Read returns a nil *Message for a keep-alive (see KeepAlive).
type Message struct {
	ID      ID
	Payload []byte
}

// KeepAlive reports whether m is a keep-alive (zero-length message).
func (m *Message) KeepAlive() bool { return m == nil }

// HaveMessage is the decoded payload of a Have message.
type HaveMessage struct {
	Index uint32
}

// RequestMessage is the decoded payload of a Request or Cancel message.
type RequestMessage struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// PieceMessage is the decoded payload of a Piece message.
type PieceMessage struct {
	Index uint32
	Begin uint32
	Data  []byte
}

// Marshal frames a message for the wire: 4-byte big-endian length, then the
// id byte, then the payload. The frame always carries an id byte; the
// zero-length keep-alive frame comes from MarshalKeepAlive.
func Marshal(id ID, payload []byte) []byte {
	length := uint32(len(payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// MarshalKeepAlive returns the 4-byte zero-length keep-alive frame.
func MarshalKeepAlive() []byte {
	return make([]byte, 4)
}

// MarshalHave encodes a Have message.
func MarshalHave(index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Marshal(Have, payload)
}

// MarshalBitfield encodes a Bitfield message.
func MarshalBitfield(bits []byte) []byte {
	return Marshal(BitfieldID, bits)
}

// MarshalRequest encodes a Request or Cancel message (same payload shape).
func MarshalRequest(id ID, m RequestMessage) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], m.Index)
	binary.BigEndian.PutUint32(payload[4:8], m.Begin)
	binary.BigEndian.PutUint32(payload[8:12], m.Length)
	return Marshal(id, payload)
}

// MarshalPiece encodes a Piece message.
func MarshalPiece(m PieceMessage) []byte {
	payload := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(payload[0:4], m.Index)
	binary.BigEndian.PutUint32(payload[4:8], m.Begin)
	copy(payload[8:], m.Data)
	return Marshal(Piece, payload)
}

// Read reads one framed message from r. Returns (nil, nil) for a
// keep-alive. Unknown ids fail the session (spec.md §4.1).
func Read(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("peerprotocol: read message body: %w", err)
	}
	id := ID(body[0])
	if id > Port {
		return nil, fmt.Errorf("peerprotocol: unknown message id %d", body[0])
	}
	return &Message{ID: id, Payload: body[1:]}, nil
}

// DecodeHave decodes a Have payload. Payloads of any other length fail the
// session (spec.md §4.4).
func DecodeHave(payload []byte) (HaveMessage, error) {
	if len(payload) != 4 {
		return HaveMessage{}, fmt.Errorf("peerprotocol: have payload length %d != 4", len(payload))
	}
	return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
}

// DecodeRequest decodes a Request or Cancel payload.
func DecodeRequest(payload []byte) (RequestMessage, error) {
	if len(payload) != 12 {
		return RequestMessage{}, fmt.Errorf("peerprotocol: request payload length %d != 12", len(payload))
	}
	return RequestMessage{
		Index:  binary.BigEndian.Uint32(payload[0:4]),
		Begin:  binary.BigEndian.Uint32(payload[4:8]),
		Length: binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

// DecodePiece decodes a Piece payload.
func DecodePiece(payload []byte) (PieceMessage, error) {
	if len(payload) < 8 {
		return PieceMessage{}, errors.New("peerprotocol: piece payload shorter than 8 bytes")
	}
	return PieceMessage{
		Index: binary.BigEndian.Uint32(payload[0:4]),
		Begin: binary.BigEndian.Uint32(payload[4:8]),
		Data:  payload[8:],
	}, nil
}

// DecodeBitfield validates that a Bitfield payload has the expected number
// of bytes for numPieces, per spec.md §4.1/§8.
func DecodeBitfield(payload []byte, numPieces int) ([]byte, error) {
	want := (numPieces + 7) / 8
	if len(payload) != want {
		return nil, fmt.Errorf("peerprotocol: bitfield length %d != %d", len(payload), want)
	}
	return payload, nil
}

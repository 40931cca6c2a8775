package peerprotocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var ih, id [20]byte
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(id[:], "dips-001-00000000001")

	hs := Handshake{InfoHash: ih, PeerID: id}
	raw := hs.Marshal()
	require.Len(t, raw, HandshakeLen)
	assert.EqualValues(t, 19, raw[0])
	assert.Equal(t, protocolString, string(raw[1:20]))

	got, err := ReadHandshake(bytes.NewReader(raw), ih)
	require.NoError(t, err)
	assert.Equal(t, ih, got.InfoHash)
	assert.Equal(t, id, got.PeerID)
}

func TestHandshakeInfoHashMismatchRejected(t *testing.T) {
	var ih, other, id [20]byte
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(other[:], "bbbbbbbbbbbbbbbbbbbb")
	raw := Handshake{InfoHash: ih, PeerID: id}.Marshal()
	_, err := ReadHandshake(bytes.NewReader(raw), other)
	require.Error(t, err)
}

func TestHandshakeBadLengthPrefixRejected(t *testing.T) {
	raw := Handshake{}.Marshal()
	raw[0] = 20
	_, err := ReadHandshake(bytes.NewReader(raw), [20]byte{})
	require.Error(t, err)
}

func TestKeepAliveRoundTrip(t *testing.T) {
	raw := MarshalKeepAlive()
	assert.Equal(t, []byte{0, 0, 0, 0}, raw)
	msg, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHaveRoundTrip(t *testing.T) {
	raw := MarshalHave(7)
	msg, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, Have, msg.ID)
	h, err := DecodeHave(msg.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 7, h.Index)
}

func TestHaveWrongLengthRejected(t *testing.T) {
	_, err := DecodeHave([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	want := RequestMessage{Index: 1, Begin: 16384, Length: 3616}
	raw := MarshalRequest(Request, want)
	msg, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, Request, msg.ID)
	got, err := DecodeRequest(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPieceRoundTrip(t *testing.T) {
	data := []byte("hello block")
	raw := MarshalPiece(PieceMessage{Index: 2, Begin: 0, Data: data})
	msg, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, Piece, msg.ID)
	got, err := DecodePiece(msg.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Index)
	assert.EqualValues(t, 0, got.Begin)
	assert.Equal(t, data, got.Data)
}

func TestBitfieldRoundTrip(t *testing.T) {
	bits := []byte{0xFF, 0x80}
	raw := MarshalBitfield(bits)
	msg, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, BitfieldID, msg.ID)
	got, err := DecodeBitfield(msg.Payload, 9)
	require.NoError(t, err)
	assert.Equal(t, bits, got)
}

func TestUnknownMessageIDRejected(t *testing.T) {
	raw := Marshal(ID(200), nil)
	_, err := Read(bytes.NewReader(raw))
	require.Error(t, err)
}

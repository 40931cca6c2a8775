package piece

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/derinil/bittorrent/internal/peer"
	"github.com/derinil/bittorrent/internal/peerprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveBlocks reads count Requests from conn, then answers each with the
// matching slice of want. net.Pipe does not buffer, and Download sends every
// Request before reading any reply, so no reply is written until all
// Requests have been read.
func serveBlocks(conn net.Conn, want []byte, count int) {
	r := bufio.NewReader(conn)
	var reqs []peerprotocol.RequestMessage
	for i := 0; i < count; i++ {
		msg, err := peerprotocol.Read(r)
		if err != nil || msg == nil || msg.ID != peerprotocol.Request {
			return
		}
		req, err := peerprotocol.DecodeRequest(msg.Payload)
		if err != nil {
			return
		}
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		data := want[req.Begin : req.Begin+req.Length]
		raw := peerprotocol.MarshalPiece(peerprotocol.PieceMessage{
			Index: req.Index, Begin: req.Begin, Data: data,
		})
		if _, err := conn.Write(raw); err != nil {
			return
		}
	}
}

func TestDownloadAssemblesPieceInOrder(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	want := make([]byte, 3*16384+5000)
	for i := range want {
		want[i] = byte(i)
	}
	blocks := Blocks(0, int64(len(want)), 16384)

	go serveBlocks(c2, want, len(blocks))

	pe := peer.New(peer.Endpoint{}, c1, 2*time.Second)
	result := Download(pe, 0, int64(len(want)), 16384, 2*time.Second)

	require.True(t, result.OK)
	assert.Equal(t, 0, result.PieceIndex)
	assert.Equal(t, want, result.Data)
	assert.Same(t, pe, result.Peer)
}

func TestDownloadFailsOnRequestWriteError(t *testing.T) {
	c1, _ := net.Pipe()
	c1.Close()

	pe := peer.New(peer.Endpoint{}, c1, time.Second)
	result := Download(pe, 0, 16384, 16384, time.Second)

	assert.False(t, result.OK)
	assert.Nil(t, result.Data)
}

func TestDownloadFailsWhenPeerStopsResponding(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	// Serve nothing; the read deadline should expire before any block
	// arrives.
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := c2.Read(buf); err != nil {
				return
			}
		}
	}()

	pe := peer.New(peer.Endpoint{}, c1, 50*time.Millisecond)
	result := Download(pe, 0, 16384, 16384, 50*time.Millisecond)

	assert.False(t, result.OK)
}

package peer

import (
	"net"
	"testing"
	"time"

	"github.com/derinil/bittorrent/internal/peerprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePeers(t *testing.T) (*Peer, *Peer) {
	c1, c2 := net.Pipe()
	return New(Endpoint{}, c1, 30*time.Second), New(Endpoint{}, c2, 30*time.Second)
}

// tcpPeers returns two Peers joined by a loopback TCP connection. Unlike
// net.Pipe, TCP buffers writes, so both sides can write before either reads.
func tcpPeers(t *testing.T) (*Peer, *Peer) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	c1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c2, err := ln.Accept()
	require.NoError(t, err)
	return New(Endpoint{}, c1, 30*time.Second), New(Endpoint{}, c2, 30*time.Second)
}

func TestHandshakeOverLoopback(t *testing.T) {
	a, b := tcpPeers(t)
	defer a.Close()
	defer b.Close()
	var ih, idA, idB [20]byte
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(idA[:], "dips-001-00000000001")
	copy(idB[:], "dips-001-00000000002")

	done := make(chan error, 1)
	go func() { done <- b.Handshake(idB, ih, time.Second) }()

	err := a.Handshake(idA, ih, time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, idB, a.PeerID)
	assert.Equal(t, idA, b.PeerID)
}

func TestSetInterestedIsNoOpWhenUnchanged(t *testing.T) {
	a, b := pipePeers(t)
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		msg, err := b.ReceiveMessage(time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, peerprotocol.Interested, msg.ID)
		close(done)
	}()

	require.NoError(t, a.SetInterested(true, time.Second))
	<-done
	assert.True(t, a.AmInterested)

	// No message should be sent the second time; confirm no state change.
	require.NoError(t, a.SetInterested(true, time.Second))
}

func TestUseBitfieldSetsExpectedPieces(t *testing.T) {
	a, _ := pipePeers(t)
	defer a.Close()
	a.UseBitfield([]byte{0xFF})
	for i := 0; i < 8; i++ {
		assert.True(t, a.HasPiece(i), "piece %d", i)
	}
	assert.False(t, a.HasPiece(8))
}

func TestHaveExtendsOwnership(t *testing.T) {
	a, _ := pipePeers(t)
	defer a.Close()
	a.UseBitfield([]byte{0x00})
	assert.False(t, a.HasPiece(3))
	a.AddHave(3)
	assert.True(t, a.HasPiece(3))
}

func TestUploadRateOverWindow(t *testing.T) {
	a, _ := pipePeers(t)
	defer a.Close()
	a.rateWindow = time.Minute
	a.LogMovement(100, Upload)
	a.LogMovement(50, Download)
	assert.EqualValues(t, 100, a.UploadRateOver(time.Minute))
	assert.EqualValues(t, 50, a.DownloadRateOver(time.Minute))
}

func TestSilentAfterKeepAliveWindow(t *testing.T) {
	a, _ := pipePeers(t)
	defer a.Close()
	a.LastMessageAt = time.Now().Add(-121 * time.Second)
	assert.True(t, a.Silent(120*time.Second))
	a.LastMessageAt = time.Now()
	assert.False(t, a.Silent(120*time.Second))
}

package pool

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/derinil/bittorrent/internal/config"
	"github.com/derinil/bittorrent/internal/metainfo"
	"github.com/derinil/bittorrent/internal/peer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testTorrent(pieceCount int) *metainfo.Torrent {
	hashes := make([][20]byte, pieceCount)
	return &metainfo.Torrent{
		PieceLength: 16384,
		PieceHashes: hashes,
		TotalLength: int64(pieceCount) * 16384,
	}
}

func newTestPeer(t *testing.T, rate int64, interested bool) *peer.Peer {
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c2.Close() })
	go io.Copy(io.Discard, c2)
	pe := peer.New(peer.Endpoint{}, c1, 30*time.Second)
	pe.PeerInterested = interested
	if rate > 0 {
		pe.LogMovement(rate, peer.Upload)
	}
	return pe
}

func newTestPool(t *testing.T, pieceCount int) *Pool {
	cfg := config.Default()
	return &Pool{
		cfg:        &cfg,
		tor:        testTorrent(pieceCount),
		log:        discardEntry(),
		busy:       make(map[*peer.Peer]struct{}),
		owned:      make(map[int]struct{}),
		inProgress: make(map[int]struct{}),
		assignedTo: make(map[int]*peer.Peer),
	}
}

func TestChokeAlgorithmRanksTopFourBySpecScenario(t *testing.T) {
	p := newTestPool(t, 4)
	rates := []int64{1000, 900, 800, 700, 600, 500}
	for _, r := range rates {
		p.active = append(p.active, newTestPeer(t, r, true))
	}
	p.runChokeAlgorithm(false)

	for i := 0; i < 4; i++ {
		assert.False(t, p.active[i].PeerChoked, "peer with rate %d should be unchoked", rates[i])
	}
	for i := 4; i < 6; i++ {
		assert.True(t, p.active[i].PeerChoked, "peer with rate %d should be choked", rates[i])
	}
}

func TestChokeAlgorithmZeroInterestedEmitsNoUnchokes(t *testing.T) {
	p := newTestPool(t, 4)
	for _, r := range []int64{1000, 900} {
		p.active = append(p.active, newTestPeer(t, r, false))
	}
	p.runChokeAlgorithm(false)
	for _, pe := range p.active {
		assert.True(t, pe.PeerChoked)
	}
}

func TestOptimisticUnchokeFlipsOneAdditionalChokedPeer(t *testing.T) {
	p := newTestPool(t, 4)
	for _, r := range []int64{1000, 900, 800, 700, 600, 500} {
		p.active = append(p.active, newTestPeer(t, r, true))
	}
	p.runChokeAlgorithm(false)
	require.True(t, p.active[4].PeerChoked)
	require.True(t, p.active[5].PeerChoked)

	p.runChokeAlgorithm(true)
	assert.False(t, p.active[5].PeerChoked, "reverse-insertion-order pick should be the last-inserted choked peer")
}

func TestPiecesLeftExcludesOwnedAndInProgress(t *testing.T) {
	p := newTestPool(t, 5)
	p.owned[0] = struct{}{}
	p.inProgress[1] = struct{}{}
	left := p.piecesLeft()
	assert.NotContains(t, left, 0)
	assert.NotContains(t, left, 1)
	assert.Contains(t, left, 2)
	assert.Contains(t, left, 3)
	assert.Contains(t, left, 4)
}

func TestFirstUsefulPiecePicksLowestIndex(t *testing.T) {
	pe := newTestPeer(t, 0, false)
	pe.AddHave(3)
	pe.AddHave(1)
	pe.AddHave(4)
	left := map[int]struct{}{1: {}, 3: {}, 4: {}}
	idx, ok := firstUsefulPiece(pe, left)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestFirstUsefulPieceFalseWhenNoIntersection(t *testing.T) {
	pe := newTestPeer(t, 0, false)
	pe.AddHave(9)
	_, ok := firstUsefulPiece(pe, map[int]struct{}{1: {}})
	assert.False(t, ok)
}

func TestVerifyPieceDetectsMismatch(t *testing.T) {
	p := newTestPool(t, 1)
	assert.False(t, p.verifyPiece(0, []byte("wrong data")))
}

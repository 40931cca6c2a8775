// Package peer implements the per-connection peer session state machine:
// choke/interest flags, the peer's claimed piece ownership, pending inbound
// requests, received blocks awaiting assembly, and rate accounting
// (spec.md §3, §4.3).
//
// Grounded on shammishailaj-rain's torrent/internal/peerconn.Peer (struct
// shape, reader/writer split) and other_examples' dbadoy-rain
// internal/peer/peer.go (the four choke/interest booleans, the
// connReadTimeout convention). Per spec.md §5 a Peer is never shared
// between goroutines at a moment in time: a worker is handed sole
// ownership for the duration of one operation and returns it when done, so
// no field below needs its own lock.
package peer

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/derinil/bittorrent/internal/block"
)

// Endpoint is a peer's dial address.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

func (e Endpoint) Network() string { return "tcp" }

// Direction tags a data movement for rate accounting.
type Direction int

const (
	Download Direction = iota
	Upload
)

type movement struct {
	at   time.Time
	size int64
	dir  Direction
}

// Peer is one peer connection's session state.
type Peer struct {
	Endpoint Endpoint
	conn     net.Conn
	r        *bufio.Reader

	PeerID      [20]byte
	HasPeerID   bool
	hasBitfield bool

	// NumPieces is the torrent's piece count, used to validate the length of
	// an incoming Bitfield payload (spec.md §4.4, §8). Zero means unset, in
	// which case Bitfield length is not checked.
	NumPieces int

	AmChoked       bool
	AmInterested   bool
	PeerChoked     bool
	PeerInterested bool

	peerHas map[int]struct{}

	PendingRequests  []block.Block
	DownloadedBlocks []block.Download

	rate       []movement
	rateWindow time.Duration

	LastMessageAt  time.Time
	FailedAttempts int
}

// New wraps an established, not-yet-handshaken TCP connection as a Peer
// session in its initial BitTorrent state: both sides start choked,
// neither is interested (spec.md §3).
func New(endpoint Endpoint, conn net.Conn, rateWindow time.Duration) *Peer {
	return &Peer{
		Endpoint:       endpoint,
		conn:           conn,
		r:              bufio.NewReader(conn),
		AmChoked:       true,
		PeerChoked:     true,
		peerHas:        make(map[int]struct{}),
		rateWindow:     rateWindow,
		LastMessageAt:  time.Now(),
	}
}

// Close closes the underlying connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// HasPiece reports whether the peer has claimed ownership of piece i via
// Bitfield or Have.
func (p *Peer) HasPiece(i int) bool {
	_, ok := p.peerHas[i]
	return ok
}

// AddHave records that the peer now claims to own piece i.
func (p *Peer) AddHave(i int) {
	p.peerHas[i] = struct{}{}
}

// UseBitfield seeds peerHas from a received Bitfield payload: for each set
// bit, insert the corresponding piece index (spec.md §4.3).
func (p *Peer) UseBitfield(raw []byte) {
	for byteIdx, b := range raw {
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if b&(1<<uint(7-bitIdx)) != 0 {
				p.peerHas[byteIdx*8+bitIdx] = struct{}{}
			}
		}
	}
	p.hasBitfield = true
}

// PiecesIn returns the subset of candidates the peer claims to own.
func (p *Peer) PiecesIn(candidates map[int]struct{}) []int {
	var out []int
	for i := range candidates {
		if p.HasPiece(i) {
			out = append(out, i)
		}
	}
	return out
}

// LogMovement appends a data movement to the rate log and discards entries
// older than the configured window (spec.md §4.3, §9: a bounded-time-window
// log, pruned to the longest window in use).
func (p *Peer) LogMovement(size int64, dir Direction) {
	now := time.Now()
	p.rate = append(p.rate, movement{at: now, size: size, dir: dir})
	p.pruneRate(now)
}

func (p *Peer) pruneRate(now time.Time) {
	cutoff := now.Add(-p.rateWindow)
	i := 0
	for i < len(p.rate) && p.rate[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.rate = p.rate[i:]
	}
}

// RateOver sums the bytes moved in direction dir within the last d.
func (p *Peer) RateOver(dir Direction, d time.Duration) int64 {
	cutoff := time.Now().Add(-d)
	var sum int64
	for _, m := range p.rate {
		if m.dir == dir && !m.at.Before(cutoff) {
			sum += m.size
		}
	}
	return sum
}

// UploadRateOver sums bytes we sent to this peer within the last d.
func (p *Peer) UploadRateOver(d time.Duration) int64 {
	return p.RateOver(Upload, d)
}

// DownloadRateOver sums bytes we received from this peer within the last d.
func (p *Peer) DownloadRateOver(d time.Duration) int64 {
	return p.RateOver(Download, d)
}

// Silent reports whether the peer has been silent for at least d, the
// keep-alive eviction test (spec.md §4.4, §8).
func (p *Peer) Silent(d time.Duration) bool {
	return time.Since(p.LastMessageAt) >= d
}

// EnqueueRequest pushes an inbound Request the peer sent us onto the
// pending-request queue (spec.md §4.4).
func (p *Peer) EnqueueRequest(b block.Block) {
	p.PendingRequests = append(p.PendingRequests, b)
}

// CancelRequest removes a matching pending Request, if present (spec.md
// §4.4).
func (p *Peer) CancelRequest(b block.Block) {
	for i, r := range p.PendingRequests {
		if r == b {
			p.PendingRequests = append(p.PendingRequests[:i], p.PendingRequests[i+1:]...)
			return
		}
	}
}

// TakePendingRequests drains and returns the current pending-request queue.
func (p *Peer) TakePendingRequests() []block.Block {
	out := p.PendingRequests
	p.PendingRequests = nil
	return out
}

// AppendDownloadedBlock records a received download block and logs the
// data movement (spec.md §4.3, §4.4).
func (p *Peer) AppendDownloadedBlock(d block.Download) {
	p.DownloadedBlocks = append(p.DownloadedBlocks, d)
	p.LogMovement(int64(len(d.Data)), Download)
}

// TakeDownloadedBlocksFor drains and returns every downloaded block
// received so far for pieceIndex, removing them from the pending buffer.
func (p *Peer) TakeDownloadedBlocksFor(pieceIndex int) []block.Download {
	var out []block.Download
	var rest []block.Download
	for _, d := range p.DownloadedBlocks {
		if d.PieceIndex == pieceIndex {
			out = append(out, d)
		} else {
			rest = append(rest, d)
		}
	}
	p.DownloadedBlocks = rest
	return out
}

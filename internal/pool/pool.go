// Package pool implements the peer pool: connection intake, the message
// pump, the choke algorithm, piece selection and download, verification
// and persistence, upload, and keep-alive pruning (spec.md §4.4).
//
// Grounded on the teacher's session.torrent event loop
// (session/run.go, session/torrent.go): a single pool goroutine owns every
// piece of pool-wide bookkeeping and reacts to worker results delivered on
// channels; workers themselves never touch that bookkeeping (spec.md §5,
// §9). cenkalti/rain splits this across announcer/handshaker/downloader/
// uploader actors connected by a much larger command/event surface; this
// pool collapses that into one loop plus five worker kinds (intake,
// message pump, piece download, upload, Have broadcast) sized for a single torrent with
// no DHT, no resume, and no multi-torrent Session.
package pool

import (
	"crypto/sha1"
	"sort"
	"time"

	"github.com/derinil/bittorrent/internal/bitfield"
	"github.com/derinil/bittorrent/internal/config"
	"github.com/derinil/bittorrent/internal/listener"
	"github.com/derinil/bittorrent/internal/logger"
	"github.com/derinil/bittorrent/internal/metainfo"
	"github.com/derinil/bittorrent/internal/peer"
	"github.com/derinil/bittorrent/internal/piece"
	"github.com/derinil/bittorrent/internal/storage"
	"github.com/sirupsen/logrus"
)

// backlogEntry is an unconnected (or previously-demoted) peer endpoint
// together with its failure count (spec.md §4.4, §8: dropped after the
// fifth failure).
type backlogEntry struct {
	endpoint peer.Endpoint
	attempts int
}

// Pool owns every active peer session plus the bookkeeping that decides
// what each cycle's workers should do next.
type Pool struct {
	cfg *config.Config
	tor *metainfo.Torrent
	out *storage.File
	ln  *listener.Listener
	log *logrus.Entry

	peerID [20]byte

	backlog []backlogEntry
	active  []*peer.Peer

	connecting int // intake workers currently in flight

	// busy marks active peers currently owned by an in-flight worker
	// (message pump, download, upload, or Have broadcast). A peer is never
	// handed to a second worker while busy (spec.md §5: a peer session is
	// never shared between workers at a moment in time).
	busy map[*peer.Peer]struct{}

	owned      map[int]struct{}
	inProgress map[int]struct{}
	assignedTo map[int]*peer.Peer // piece index -> peer it was assigned to; removeActive uses it to free that peer's in-progress pieces

	bytesUploaded   int64
	bytesDownloaded int64

	handshakeResultC chan handshakeResult
	pumpResultC      chan pumpResult
	downloadResultC  chan piece.Result
	uploadResultC    chan uploadResult
	haveResultC      chan haveResult

	// Progress reports one line per completed piece and per state
	// transition (spec.md §7: "the pool emits progress on each completed
	// piece and each state transition").
	Progress func(event string)

	// OnPieceComplete is called once per successfully verified and
	// persisted piece, separately from Progress, so a caller can drive a
	// piece-counted progress bar without parsing log text.
	OnPieceComplete func(index int)

	doneC chan struct{}
}

// New constructs a Pool for tor, persisting into out, listening for
// inbound connections on ln, using cfg's tunables.
func New(cfg *config.Config, tor *metainfo.Torrent, out *storage.File, ln *listener.Listener, peerID [20]byte) *Pool {
	return &Pool{
		cfg:    cfg,
		tor:    tor,
		out:    out,
		ln:     ln,
		log:    logger.New("pool"),
		peerID: peerID,

		busy:       make(map[*peer.Peer]struct{}),
		owned:      make(map[int]struct{}),
		inProgress: make(map[int]struct{}),
		assignedTo: make(map[int]*peer.Peer),

		handshakeResultC: make(chan handshakeResult),
		pumpResultC:      make(chan pumpResult),
		downloadResultC:  make(chan piece.Result),
		uploadResultC:    make(chan uploadResult),
		haveResultC:      make(chan haveResult),

		doneC: make(chan struct{}),
	}
}

// Seed adds a batch of newly-discovered peer endpoints to the backlog
// (e.g. from a tracker announce), skipping any already active or
// backlogged.
func (p *Pool) Seed(endpoints []peer.Endpoint) {
	known := make(map[string]struct{}, len(p.active)+len(p.backlog))
	for _, a := range p.active {
		known[a.Endpoint.String()] = struct{}{}
	}
	for _, b := range p.backlog {
		known[b.endpoint.String()] = struct{}{}
	}
	for _, e := range endpoints {
		if _, ok := known[e.String()]; ok {
			continue
		}
		p.backlog = append(p.backlog, backlogEntry{endpoint: e})
		known[e.String()] = struct{}{}
	}
}

// Complete reports whether every piece is owned.
func (p *Pool) Complete() bool {
	return len(p.owned) == p.tor.PieceCount()
}

// BytesDownloaded, BytesUploaded, and BytesLeft report the accounting the
// tracker client needs for periodic announces (spec.md §4.2).
func (p *Pool) BytesDownloaded() int64 { return p.bytesDownloaded }
func (p *Pool) BytesUploaded() int64   { return p.bytesUploaded }

func (p *Pool) BytesLeft() int64 {
	var left int64
	for i := 0; i < p.tor.PieceCount(); i++ {
		if _, ok := p.owned[i]; !ok {
			left += p.tor.PieceLen(i)
		}
	}
	return left
}

// Bitfield returns our current ownership as a wire-ready bitfield.
func (p *Pool) Bitfield() *bitfield.Bitfield {
	bf := bitfield.New(p.tor.PieceCount())
	for i := range p.owned {
		bf.Set(i)
	}
	return bf
}

// tryClaim marks pe busy and reports true, or reports false if pe is
// already owned by another in-flight worker.
func (p *Pool) tryClaim(pe *peer.Peer) bool {
	if _, ok := p.busy[pe]; ok {
		return false
	}
	p.busy[pe] = struct{}{}
	return true
}

// release clears pe's busy marker once its worker has joined.
func (p *Pool) release(pe *peer.Peer) {
	delete(p.busy, pe)
}

func (p *Pool) emit(event string) {
	p.log.Infoln(event)
	if p.Progress != nil {
		p.Progress(event)
	}
}

// Run drives the pool's single-threaded cycle loop until every piece is
// owned (spec.md §5: "the peer pool's main loop runs on a single thread").
// It returns once Complete() would report true.
func (p *Pool) Run() {
	cycle := time.NewTicker(p.cfg.CycleInterval)
	choke := time.NewTicker(p.cfg.ChokeInterval)
	optimistic := time.NewTicker(p.cfg.OptimisticUnchokeInterval)
	defer cycle.Stop()
	defer choke.Stop()
	defer optimistic.Stop()

	for !p.Complete() {
		select {
		case r := <-p.handshakeResultC:
			p.handleHandshakeResult(r)
		case r := <-p.pumpResultC:
			p.handlePumpResult(r)
		case r := <-p.downloadResultC:
			p.handleDownloadResult(r)
		case r := <-p.uploadResultC:
			p.handleUploadResult(r)
		case r := <-p.haveResultC:
			p.handleHaveResult(r)
		case conn := <-p.ln.Conns:
			p.acceptInbound(conn)
		case <-choke.C:
			p.runChokeAlgorithm(false)
		case <-optimistic.C:
			p.runChokeAlgorithm(true)
		case <-cycle.C:
			p.runCycle()
		}
	}
	close(p.doneC)
}

// Done is closed once the torrent is complete.
func (p *Pool) Done() <-chan struct{} { return p.doneC }

// runCycle performs the per-cycle steps that are not their own ticker:
// intake refill, the message pump sweep, piece selection, upload sweep,
// and keep-alive pruning (spec.md §4.4).
func (p *Pool) runCycle() {
	p.refillFromBacklog()
	p.pumpMessages()
	p.selectPieces()
	p.sweepUploads()
	p.evictSilentPeers()
}

// verifyPiece hashes data and reports whether it matches the descriptor's
// recorded hash for index i (spec.md §4.4, §8).
func (p *Pool) verifyPiece(index int, data []byte) bool {
	sum := sha1.Sum(data)
	return sum == p.tor.PieceHashes[index]
}

// piecesLeft computes all_indices - owned - in_progress (spec.md §4.4).
func (p *Pool) piecesLeft() map[int]struct{} {
	out := make(map[int]struct{})
	for i := 0; i < p.tor.PieceCount(); i++ {
		if _, ok := p.owned[i]; ok {
			continue
		}
		if _, ok := p.inProgress[i]; ok {
			continue
		}
		out[i] = struct{}{}
	}
	return out
}

// sortedRateDescending returns active peer indices ranked by outbound byte
// rate over window, descending (spec.md §4.4's choke ranking).
func (p *Pool) sortedRateDescending(window time.Duration) []int {
	idx := make([]int, len(p.active))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.active[idx[a]].UploadRateOver(window) > p.active[idx[b]].UploadRateOver(window)
	})
	return idx
}

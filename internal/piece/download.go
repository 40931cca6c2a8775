package piece

import (
	"bytes"
	"sort"
	"time"

	"github.com/derinil/bittorrent/internal/block"
	"github.com/derinil/bittorrent/internal/peer"
)

// Result is what a download worker reports back on join (spec.md §4.4,
// §9: "workers return (peer, status) on join; the pool re-indexes").
type Result struct {
	PieceIndex int
	Data       []byte
	Peer       *peer.Peer
	OK         bool
}

// Download issues Requests covering [0, length) in blockSize chunks to pe,
// then drains messages until every requested block has arrived, assembling
// the piece by sorting received blocks by offset and concatenating
// (spec.md §4.4). The caller owns pe for the duration of this call and
// regains it via the returned Result once Download returns.
func Download(pe *peer.Peer, pieceIndex int, length int64, blockSize int, keepAlive time.Duration) Result {
	blocks := Blocks(pieceIndex, length, blockSize)
	for _, b := range blocks {
		if err := pe.SendRequest(b, keepAlive); err != nil {
			return Result{PieceIndex: pieceIndex, Peer: pe, OK: false}
		}
	}

	received := make(map[block.Block][]byte, len(blocks))
	for len(received) < len(blocks) {
		msg, err := pe.ReceiveMessage(keepAlive)
		if err != nil {
			return Result{PieceIndex: pieceIndex, Peer: pe, OK: false}
		}
		if err := pe.ApplyMessage(msg); err != nil {
			return Result{PieceIndex: pieceIndex, Peer: pe, OK: false}
		}
		for _, d := range pe.TakeDownloadedBlocksFor(pieceIndex) {
			received[d.Block()] = d.Data
		}
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Begin < blocks[j].Begin })
	var buf bytes.Buffer
	buf.Grow(int(length))
	for _, b := range blocks {
		data, ok := received[b]
		if !ok || uint32(len(data)) != b.Length {
			return Result{PieceIndex: pieceIndex, Peer: pe, OK: false}
		}
		buf.Write(data)
	}
	return Result{PieceIndex: pieceIndex, Data: buf.Bytes(), Peer: pe, OK: true}
}

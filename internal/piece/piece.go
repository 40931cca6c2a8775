// Package piece computes block/piece geometry and drives the per-piece
// download worker (spec.md §4.4), grounded on the teacher's
// internal/downloader/piecedownloader package generalized from its
// choke/unchoke-channel concurrency to the plain ownership-transfer shape
// spec.md §5 specifies.
package piece

import "github.com/derinil/bittorrent/internal/block"

// Blocks returns the ordered list of Block requests covering [0, length)
// in blockSize chunks, the final block being the remainder, per spec.md
// §3/§8.
func Blocks(pieceIndex int, length int64, blockSize int) []block.Block {
	var blocks []block.Block
	var off int64
	for off < length {
		l := int64(blockSize)
		if off+l > length {
			l = length - off
		}
		blocks = append(blocks, block.Block{
			PieceIndex: pieceIndex,
			Begin:      uint32(off),
			Length:     uint32(l),
		})
		off += l
	}
	return blocks
}

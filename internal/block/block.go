// Package block defines the Block and DownloadBlock value types shared by
// the peer session and piece downloader (spec.md §3). Block is used as a
// map/set key, so it is a plain comparable struct.
package block

// Block identifies a requested range within a piece: (piece index, byte
// offset, requested length). Used for Request and Cancel.
type Block struct {
	PieceIndex int
	Begin      uint32
	Length     uint32
}

// DefaultLength is the default requested length of a block (16 KiB).
const DefaultLength = 16 * 1024

// Download is a block of data received in a Piece message.
type Download struct {
	PieceIndex int
	Begin      uint32
	Data       []byte
}

// Block returns the Block key matching this downloaded data.
func (d Download) Block() Block {
	return Block{PieceIndex: d.PieceIndex, Begin: d.Begin, Length: uint32(len(d.Data))}
}

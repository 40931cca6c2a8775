// Package metainfo parses a torrent's metainfo bytes into the immutable
// Torrent descriptor used by the rest of the client. Bencoding itself is
// treated as an external collaborator per spec.md §1: decoding is delegated
// to zeebo/bencode and only the "metainfo bytes -> Torrent descriptor"
// contract is implemented here.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/bencode"
)

const pieceHashLen = 20

// rawFile mirrors the top-level metainfo dictionary (spec.md §6).
type rawFile struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	Info         bencode.RawMessage `bencode:"info"`
}

// rawInfo mirrors the "info" sub-dictionary.
type rawInfo struct {
	Name        string              `bencode:"name"`
	PieceLength int64               `bencode:"piece length"`
	Pieces      string              `bencode:"pieces"`
	Length      int64               `bencode:"length"`
	Files       []rawInfoFileLength `bencode:"files"`
}

type rawInfoFileLength struct {
	Length int64 `bencode:"length"`
}

// Torrent is the immutable, parsed metainfo descriptor (spec.md §3).
type Torrent struct {
	InfoHash     [20]byte
	AnnounceURLs []string
	PieceLength  int64
	PieceHashes  [][20]byte
	TotalLength  int64
	Name         string
}

// Parse decodes metainfo bytes read from r into a Torrent descriptor.
func Parse(r io.Reader) (*Torrent, error) {
	var f rawFile
	if err := bencode.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}
	if len(f.Info) == 0 {
		return nil, errors.New("metainfo: no info dictionary")
	}
	var info rawInfo
	if err := bencode.NewDecoder(bytes.NewReader(f.Info)).Decode(&info); err != nil {
		return nil, fmt.Errorf("metainfo: decode info: %w", err)
	}
	if info.PieceLength <= 0 {
		return nil, errors.New("metainfo: non-positive piece length")
	}
	if len(info.Pieces)%pieceHashLen != 0 {
		return nil, errors.New("metainfo: pieces length is not a multiple of 20")
	}

	total := info.Length
	if total == 0 && len(info.Files) > 0 {
		for _, fl := range info.Files {
			total += fl.Length
		}
	}
	if total <= 0 {
		return nil, errors.New("metainfo: no content length")
	}

	n := len(info.Pieces) / pieceHashLen
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], info.Pieces[i*pieceHashLen:(i+1)*pieceHashLen])
	}
	if want := ceilDiv(total, info.PieceLength); want != int64(n) {
		return nil, fmt.Errorf("metainfo: piece count mismatch: have %d pieces, expected ceil(%d/%d)=%d",
			n, total, info.PieceLength, want)
	}

	// The info hash is computed over the raw captured bytes of the "info"
	// sub-dictionary exactly as they appear in the file: those bytes are
	// already canonical bencoding (sorted keys, minimal integer/string
	// framing per spec.md §6), so re-encoding a decoded struct would only
	// risk diverging from what every other client hashes.
	ih := sha1.Sum(f.Info)

	urls := collectAnnounceURLs(f.Announce, f.AnnounceList)

	return &Torrent{
		InfoHash:     ih,
		AnnounceURLs: urls,
		PieceLength:  info.PieceLength,
		PieceHashes:  hashes,
		TotalLength:  total,
		Name:         info.Name,
	}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// collectAnnounceURLs iterates every announce-list entry in order, keeping
// only UDP tracker URLs (spec.md §6); the reference implementation's
// skip-first-two shortcut is not normative (spec.md §9) and is not
// reproduced here.
func collectAnnounceURLs(announce string, announceList [][]string) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if !strings.HasPrefix(u, "udp://") {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	for _, tier := range announceList {
		for _, u := range tier {
			add(u)
		}
	}
	if announce != "" {
		add(announce)
	}
	return urls
}

// PieceCount returns the number of pieces in the torrent.
func (t *Torrent) PieceCount() int {
	return len(t.PieceHashes)
}

// PieceLen returns the length in bytes of piece i, accounting for the final
// (possibly shorter) piece, per spec.md §3/§8.
func (t *Torrent) PieceLen(i int) int64 {
	if i == t.PieceCount()-1 {
		return t.TotalLength - int64(i)*t.PieceLength
	}
	return t.PieceLength
}

// PieceOffset returns the byte offset of piece i within the output file.
func (t *Torrent) PieceOffset(i int) int64 {
	return int64(i) * t.PieceLength
}

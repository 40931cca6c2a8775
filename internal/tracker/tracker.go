// Package tracker implements the UDP tracker client: connect/announce
// exchange with strict transaction ids, exponential backoff, and a compact
// peer list result (spec.md §4.2).
package tracker

// Torrent carries per-torrent accounting the client reports to the
// tracker on every announce. Grounded on the teacher's
// internal/tracker/torrent.go, which keeps exactly this shape.
type Torrent struct {
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            int
}

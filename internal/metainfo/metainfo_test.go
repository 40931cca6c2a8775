package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMetainfo constructs raw bencode bytes for a single-file torrent by
// hand, the way the pack's own metainfo tests do, so the test exercises the
// decoder without depending on a bencode encoder.
func buildMetainfo(announce string, announceList [][]string, pieceLength, length int64, pieces []byte) []byte {
	var info bytes.Buffer
	info.WriteString("d")
	info.WriteString("6:lengthi" + itoa(length) + "e")
	info.WriteString("12:piece lengthi" + itoa(pieceLength) + "e")
	info.WriteString(fmt.Sprintf("6:pieces%d:", len(pieces)))
	info.Write(pieces)
	info.WriteString("e")

	var out bytes.Buffer
	out.WriteString("d")
	if len(announceList) > 0 {
		out.WriteString("13:announce-list")
		out.WriteString("l")
		for _, tier := range announceList {
			out.WriteString("l")
			for _, u := range tier {
				out.WriteString(fmt.Sprintf("%d:%s", len(u), u))
			}
			out.WriteString("e")
		}
		out.WriteString("e")
	}
	if announce != "" {
		out.WriteString(fmt.Sprintf("8:announce%d:%s", len(announce), announce))
	}
	out.WriteString("4:info")
	out.Write(info.Bytes())
	out.WriteString("e")
	return out.Bytes()
}

func itoa(v int64) string {
	return fmt.Sprintf("%d", v)
}

func TestParseSinglePiece(t *testing.T) {
	hash := sha1.Sum([]byte("x"))
	raw := buildMetainfo("udp://tracker.example:80/announce", nil, 16384, 16384, hash[:])

	tr, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.EqualValues(t, 16384, tr.PieceLength)
	assert.EqualValues(t, 16384, tr.TotalLength)
	require.Len(t, tr.PieceHashes, 1)
	assert.Equal(t, hash, tr.PieceHashes[0])
	assert.Equal(t, []string{"udp://tracker.example:80/announce"}, tr.AnnounceURLs)
	assert.EqualValues(t, 16384, tr.PieceLen(0))
}

func TestParseLastPieceShorter(t *testing.T) {
	h0 := sha1.Sum([]byte("a"))
	h1 := sha1.Sum([]byte("b"))
	pieces := append(append([]byte{}, h0[:]...), h1[:]...)
	raw := buildMetainfo("udp://tracker.example:80/announce", nil, 16384, 20000, pieces)

	tr, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 2, tr.PieceCount())
	assert.EqualValues(t, 16384, tr.PieceLen(0))
	assert.EqualValues(t, 3616, tr.PieceLen(1))
	assert.EqualValues(t, 16384, tr.PieceOffset(1))
}

func TestAnnounceListKeepsUDPOnly(t *testing.T) {
	h0 := sha1.Sum([]byte("a"))
	list := [][]string{
		{"http://a.example/announce", "udp://b.example:80/announce"},
		{"udp://c.example:6969/announce"},
	}
	raw := buildMetainfo("", list, 16384, 16384, h0[:])

	tr, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	for _, u := range tr.AnnounceURLs {
		assert.True(t, strings.HasPrefix(u, "udp://"))
	}
	assert.Equal(t, []string{"udp://b.example:80/announce", "udp://c.example:6969/announce"}, tr.AnnounceURLs)
}

func TestPieceCountMismatchRejected(t *testing.T) {
	h0 := sha1.Sum([]byte("a"))
	// total=16384*2 requires 2 pieces but only one hash supplied.
	raw := buildMetainfo("udp://t.example:80/announce", nil, 16384, 32768, h0[:])
	_, err := Parse(bytes.NewReader(raw))
	require.Error(t, err)
}

package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/derinil/bittorrent/internal/bterrors"
	"github.com/derinil/bittorrent/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	protocolMagic  = 0x41727101980
	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	connectReqLen  = 16
	connectRespLen = 16
	announceReqLen = 98
	announceRespHeaderLen = 20
	peerEntryLen   = 6

	eventNone = 0
)

// Peer is one compact peer entry returned by an announce.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Client performs UDP connect+announce exchanges against one or more
// tracker endpoints.
type Client struct {
	ReadTimeout  time.Duration
	BackoffBase  time.Duration
	Retries      int
	ConnIDTTL    time.Duration

	conn     *net.UDPConn
	connID   uint64
	connIDAt time.Time
	log      *logrus.Entry
}

// NewClient binds an ephemeral UDP socket for tracker exchanges.
func NewClient(readTimeout, backoffBase time.Duration, retries int, connIDTTL time.Duration) (*Client, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	return &Client{
		ReadTimeout: readTimeout,
		BackoffBase: backoffBase,
		Retries:     retries,
		ConnIDTTL:   connIDTTL,
		conn:        conn,
		log:         logger.New("tracker"),
	}, nil
}

// Close releases the UDP socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Announce resolves announceURL (a "udp://host:port/announce" tracker URL),
// runs connect+announce against it with retry and exponential backoff
// (spec.md §4.2), and returns the peer list.
func (c *Client) Announce(announceURL string, t Torrent) ([]Peer, error) {
	hostport, err := hostPort(announceURL)
	if err != nil {
		return nil, bterrors.New(bterrors.Format, err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.BackoffBase * time.Duration(1<<uint(attempt-1))
			c.log.Debugf("tracker %s attempt %d failed (%v), backing off %s", udpAddr, attempt, lastErr, backoff)
			time.Sleep(backoff)
		}
		peers, err := c.tryAnnounce(udpAddr, t)
		if err == nil {
			return peers, nil
		}
		lastErr = err
	}
	return nil, bterrors.New(bterrors.Transport, fmt.Errorf("tracker %s: all attempts failed: %w", udpAddr, lastErr))
}

func (c *Client) tryAnnounce(addr *net.UDPAddr, t Torrent) ([]Peer, error) {
	if err := c.ensureConnectionID(addr); err != nil {
		return nil, err
	}
	return c.announce(addr, t)
}

func (c *Client) ensureConnectionID(addr *net.UDPAddr) error {
	if c.connID != 0 && time.Since(c.connIDAt) < c.ConnIDTTL {
		return nil
	}
	id, err := c.connect(addr)
	if err != nil {
		return err
	}
	c.connID = id
	c.connIDAt = time.Now()
	return nil
}

func (c *Client) connect(addr *net.UDPAddr) (uint64, error) {
	txID := randomUint32()

	req := make([]byte, connectReqLen)
	binary.BigEndian.PutUint64(req[0:8], protocolMagic)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)

	resp, err := c.roundTrip(addr, req, connectRespLen)
	if err != nil {
		return 0, err
	}

	respAction := binary.BigEndian.Uint32(resp[0:4])
	respTx := binary.BigEndian.Uint32(resp[4:8])
	if respTx != txID {
		return 0, bterrors.New(bterrors.Transport, errors.New("tracker: connect transaction id mismatch"))
	}
	if respAction == actionError {
		return 0, bterrors.New(bterrors.Transport, fmt.Errorf("tracker: connect error: %s", string(resp[8:])))
	}
	if respAction != actionConnect {
		return 0, bterrors.New(bterrors.Transport, fmt.Errorf("tracker: unexpected connect action %d", respAction))
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (c *Client) announce(addr *net.UDPAddr, t Torrent) ([]Peer, error) {
	txID := randomUint32()

	req := make([]byte, announceReqLen)
	binary.BigEndian.PutUint64(req[0:8], c.connID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], txID)
	copy(req[16:36], t.InfoHash[:])
	copy(req[36:56], t.PeerID[:])
	binary.BigEndian.PutUint64(req[56:64], uint64(t.BytesDownloaded))
	binary.BigEndian.PutUint64(req[64:72], uint64(t.BytesLeft))
	binary.BigEndian.PutUint64(req[72:80], uint64(t.BytesUploaded))
	binary.BigEndian.PutUint32(req[80:84], eventNone)
	binary.BigEndian.PutUint32(req[84:88], 0) // ip = 0 (use sender address)
	binary.BigEndian.PutUint32(req[88:92], 0) // key = 0
	binary.BigEndian.PutUint32(req[92:96], uint32(int32(-1))) // numwant = -1 (default)
	binary.BigEndian.PutUint16(req[96:98], uint16(t.Port))

	resp, err := c.roundTripVariable(addr, req, announceRespHeaderLen)
	if err != nil {
		return nil, err
	}

	respAction := binary.BigEndian.Uint32(resp[0:4])
	respTx := binary.BigEndian.Uint32(resp[4:8])
	if respTx != txID {
		return nil, bterrors.New(bterrors.Transport, errors.New("tracker: announce transaction id mismatch"))
	}
	if respAction == actionError {
		return nil, bterrors.New(bterrors.Transport, fmt.Errorf("tracker: announce error: %s", string(resp[8:])))
	}
	if respAction != actionAnnounce {
		return nil, bterrors.New(bterrors.Transport, fmt.Errorf("tracker: unexpected announce action %d", respAction))
	}

	peerData := resp[announceRespHeaderLen:]
	if len(peerData)%peerEntryLen != 0 {
		return nil, bterrors.New(bterrors.Format, errors.New("tracker: peer list length not a multiple of 6"))
	}
	peers := make([]Peer, 0, len(peerData)/peerEntryLen)
	for i := 0; i+peerEntryLen <= len(peerData); i += peerEntryLen {
		ip := make(net.IP, 4)
		copy(ip, peerData[i:i+4])
		port := binary.BigEndian.Uint16(peerData[i+4 : i+6])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

// roundTrip sends req and reads exactly respLen bytes back within the
// client's read timeout.
func (c *Client) roundTrip(addr *net.UDPAddr, req []byte, respLen int) ([]byte, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	if _, err := c.conn.WriteToUDP(req, addr); err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	buf := make([]byte, respLen)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	if n != respLen {
		return nil, bterrors.New(bterrors.Format, fmt.Errorf("tracker: short read: got %d want %d", n, respLen))
	}
	return buf, nil
}

// roundTripVariable is like roundTrip but accepts a variably-sized response
// (the announce peer list is of unknown length up front).
func (c *Client) roundTripVariable(addr *net.UDPAddr, req []byte, minLen int) ([]byte, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	if _, err := c.conn.WriteToUDP(req, addr); err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	buf := make([]byte, 4096)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, bterrors.New(bterrors.Transport, err)
	}
	if n < minLen {
		return nil, bterrors.New(bterrors.Format, fmt.Errorf("tracker: short read: got %d want at least %d", n, minLen))
	}
	return buf[:n], nil
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func hostPort(announceURL string) (string, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", fmt.Errorf("tracker: invalid announce url %q: %w", announceURL, err)
	}
	if u.Scheme != "udp" {
		return "", fmt.Errorf("tracker: unsupported announce scheme %q", u.Scheme)
	}
	return u.Host, nil
}

// AnnounceAny tries every URL in order (spec.md §9: the reference client's
// skip-first-two shortcut is not normative) and returns the first
// successful peer list. If every tracker fails, the last error is
// returned, classified Fatal by the caller at startup.
func (c *Client) AnnounceAny(urls []string, t Torrent) ([]Peer, error) {
	var lastErr error
	for _, u := range urls {
		peers, err := c.Announce(u, t)
		if err != nil {
			c.log.Warningf("tracker %s failed: %v", u, err)
			lastErr = err
			continue
		}
		return peers, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no trackers configured")
	}
	return nil, lastErr
}

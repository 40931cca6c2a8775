// Package listener accepts inbound peer TCP connections and hands each
// one to the pool for handshake, matching spec.md §4.2's inbound half of
// the connection lifecycle.
//
// Grounded on other_examples' billwashere-Taipei-Torrent main.go accept
// loop (listener.Accept() in a for loop feeding a channel) and the
// teacher's closeC-channel shutdown convention (session/session.go,
// session/torrent.go use `chan struct{}` closure rather than
// context.Context to stop goroutines).
package listener

import (
	"net"

	"github.com/derinil/bittorrent/internal/bterrors"
	"github.com/sirupsen/logrus"
)

// Listener accepts inbound peer connections on a bound TCP port and
// delivers them on Conns. It applies no capacity backpressure of its own:
// every accepted connection is capacity-checked once by the pool goroutine
// in acceptInbound, which is the only thing that ever reads the pool's
// active/connecting counts (spec.md §5 — those fields are pool-goroutine
// owned and must not be read from any other thread).
type Listener struct {
	ln    net.Listener
	Conns chan net.Conn

	closeC chan chan struct{}
	log    *logrus.Entry
}

// New binds addr (e.g. ":6881") and returns a Listener ready to Run.
func New(addr string, log *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, bterrors.New(bterrors.Fatal, err)
	}
	return &Listener{
		ln:     ln,
		Conns:  make(chan net.Conn),
		closeC: make(chan chan struct{}),
		log:    log,
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts connections until Close is called, delivering each accepted
// connection on Conns. The pool goroutine decides whether to keep or close
// it (acceptInbound checks capacity there, SPEC_FULL.md §3).
func (l *Listener) Run() {
	type accepted struct {
		conn net.Conn
		err  error
	}
	// Buffered by 1 so the accept goroutine can deliver its terminal error
	// after Run has already returned (Close stops Run before closing the
	// socket) without blocking forever on a send nobody receives.
	acceptC := make(chan accepted, 1)
	go func() {
		for {
			conn, err := l.ln.Accept()
			acceptC <- accepted{conn, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case a := <-acceptC:
			if a.err != nil {
				l.log.WithError(a.err).Debugln("accept failed")
				continue
			}
			l.Conns <- a.conn
		case doneC := <-l.closeC:
			close(doneC)
			return
		}
	}
}

// Close stops Run and closes the bound socket.
func (l *Listener) Close() error {
	doneC := make(chan struct{})
	l.closeC <- doneC
	<-doneC
	return l.ln.Close()
}

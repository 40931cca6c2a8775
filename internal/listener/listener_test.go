package listener

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestAcceptedConnectionDeliveredOnConns(t *testing.T) {
	l, err := New("127.0.0.1:0", discardLog())
	require.NoError(t, err)
	go l.Run()
	defer l.Close()

	conn, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case accepted := <-l.Conns:
		require.NotNil(t, accepted)
		accepted.Close()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestCloseStopsRunAndClosesSocket(t *testing.T) {
	l, err := New("127.0.0.1:0", discardLog())
	require.NoError(t, err)
	go l.Run()

	require.NoError(t, l.Close())

	_, err = net.DialTimeout("tcp", l.Addr().String(), time.Second)
	require.Error(t, err, "socket should be closed after Close")
}

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/server"
	"github.com/momentics/udsipc/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "uds")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

// echoServer accepts connections and echoes every message until the peer
// goes away.
func echoServer(t *testing.T) string {
	t.Helper()
	path := socketPath(t)
	srv, err := server.Listen(path)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			sess, err := srv.WaitForConnection()
			if err != nil {
				return
			}
			go func(s *session.Session) {
				defer s.Close()
				buf := make([]byte, 1024)
				for {
					n, err := s.Receive(buf, nil)
					if err != nil {
						return
					}
					if _, err := s.Send(buf[:n]); err != nil {
						return
					}
				}
			}(sess)
		}
	}()
	t.Cleanup(func() {
		srv.Unblock()
		<-done
		srv.Close()
	})
	return path
}

func TestConnectMissingPathFailsFast(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	err = c.Connect(filepath.Join(t.TempDir(), "absent.sock"))
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.IsConnected())
}

func TestPingPongFiveRounds(t *testing.T) {
	path := echoServer(t)
	c, err := New()
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(path))

	got, ok := c.Path()
	require.True(t, ok)
	assert.Equal(t, path, got)

	buf := make([]byte, 64)
	for i := 0; i < 5; i++ {
		msg := []byte(fmt.Sprintf("ping %d", i))
		_, err := c.Send(msg)
		require.NoError(t, err)
		n, err := c.ReceiveTimeout(buf, time.Second, nil)
		require.NoError(t, err)
		require.Equal(t, msg, buf[:n])
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	path := echoServer(t)
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(path))
	assert.True(t, c.IsConnected())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	_, ok := c.Path()
	assert.False(t, ok)
	c.Disconnect()

	_, err = c.Send([]byte("x"))
	assert.ErrorIs(t, err, api.ErrNotConnected)

	require.NoError(t, c.Connect(path))
	assert.True(t, c.IsConnected())

	_, err = c.Send([]byte("again"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := c.ReceiveTimeout(buf, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "again", string(buf[:n]))
}

func TestConnectWhileConnectedIsRejected(t *testing.T) {
	path := echoServer(t)
	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(path))
	assert.ErrorIs(t, c.Connect(path), api.ErrInvalidArgument)
	assert.True(t, c.IsConnected())
}

func TestConnectToStaleFileFailsWithoutStateChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	c, err := New()
	require.NoError(t, err)
	defer c.Close()

	err = c.Connect(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrSystem)
	assert.False(t, c.IsConnected())
}

func TestUnblockReceiveOnClient(t *testing.T) {
	path := echoServer(t)
	c, err := New()
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(path))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Receive(make([]byte, 8), nil)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.UnblockReceive())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, api.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("receive was not released")
	}
}

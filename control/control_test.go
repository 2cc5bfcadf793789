package control

import (
	"errors"
	"os"
	"testing"

	"github.com/momentics/udsipc/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/run/udsd.sock", cfg.SocketPath)
	assert.Equal(t, 1024, cfg.BufferSize)
}

func TestConfigMode(t *testing.T) {
	cases := map[string]os.FileMode{"": 0, "660": 0o660, "0600": 0o600, "0o755": 0o755}
	for in, want := range cases {
		got, err := Config{SocketMode: in}.Mode()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"rw", "1777", "9"} {
		_, err := Config{SocketMode: bad}.Mode()
		assert.ErrorIs(t, err, api.ErrInvalidArgument, bad)
	}
}

func TestConfigStoreNotifiesInOrder(t *testing.T) {
	cs := NewConfigStore(DefaultConfig())
	var calls []string
	cs.OnReload(func(prev, next Config) {
		calls = append(calls, "first:"+prev.LogLevel+"->"+next.LogLevel)
	})
	cs.OnReload(func(_, next Config) {
		calls = append(calls, "second:"+next.LogLevel)
	})

	next := DefaultConfig()
	next.LogLevel = "debug"
	require.NoError(t, cs.Set(next))

	assert.Equal(t, []string{"first:info->debug", "second:debug"}, calls)
	assert.Equal(t, "debug", cs.Snapshot().LogLevel)
}

func TestConfigStoreRejectsInvalid(t *testing.T) {
	cs := NewConfigStore(DefaultConfig())
	called := false
	cs.OnReload(func(Config, Config) { called = true })

	bad := DefaultConfig()
	bad.BufferSize = 0
	err := cs.Set(bad)
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
	assert.False(t, called)
	assert.Equal(t, 1024, cs.Snapshot().BufferSize)
}

func TestMetricsRecordActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ConnectionAccepted()
	m.SessionStarted()
	m.MessageHandled(10)
	m.BytesSent(4)
	m.SessionEnded(api.ErrConnectionReset)
	m.AcceptFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcceptErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesIn))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BytesOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionExits.WithLabelValues("connection_reset")))

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionAccepted()
	m.SessionStarted()
	m.SessionEnded(nil)
	m.MessageHandled(1)
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("sessions", func() any { return 3 })

	state := dp.DumpState()
	assert.Equal(t, 3, state["sessions"])
	assert.Equal(t, os.Getpid(), state["process.pid"])
	assert.Contains(t, dp.Names(), "platform.cpus")
}

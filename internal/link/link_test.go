package link

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segchain/internal/command"
	"segchain/internal/logging"
	"segchain/internal/retry"
	"segchain/internal/slot"
	"segchain/internal/wire"
)

type staticReplies struct{ list command.WatchdogStatusList }

func (s staticReplies) Snapshot() command.WatchdogStatusList { return s.list.Clone() }

type recordingSink struct {
	mu      sync.Mutex
	last    command.WatchdogStatusList
	clears  int
	updates int
}

func (r *recordingSink) SetFollower(l command.WatchdogStatusList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = l.Clone()
	r.updates++
}

func (r *recordingSink) ClearFollower() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = nil
	r.clears++
}

func (r *recordingSink) snapshot() (command.WatchdogStatusList, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, r.updates, r.clears
	}
	return r.last.Clone(), r.updates, r.clears
}

type fixedVelocity float64

func (v fixedVelocity) Velocity() (float64, bool) { return float64(v), true }

func startServer(t *testing.T, ctx context.Context, replies ReplySource) (*Server, string) {
	t.Helper()
	srv := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, replies, logging.Discard())
	go srv.Run(ctx)
	addr, err := srv.Addr(ctx)
	require.NoError(t, err)
	return srv, addr.String()
}

func TestClientServerExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, addr := startServer(t, ctx, staticReplies{command.WatchdogStatusList{1, 0}})
	out := slot.New[command.Command]()
	sink := &recordingSink{}
	cli := NewClient(ClientConfig{Address: addr, Retry: retry.Config{Delay: retry.MinDelay}}, out, fixedVelocity(1.25), sink, logging.Discard())
	go cli.Run(ctx)

	out.Put(command.Command{Steering: 0.5, Throttle: 0.2, Time: 10})

	require.Eventually(t, func() bool {
		c, ok := srv.Commands().Latest()
		return ok && c.Steering == 0.5
	}, time.Second, 5*time.Millisecond)

	got, _ := srv.Commands().Latest()
	require.NotNil(t, got.Velocity)
	assert.Equal(t, 1.25, *got.Velocity)

	require.Eventually(t, func() bool {
		l, n, _ := sink.snapshot()
		return n > 0 && len(l) == 2
	}, time.Second, 5*time.Millisecond)
	l, _, _ := sink.snapshot()
	assert.Equal(t, []int{1, 0}, l.Ints())
	assert.True(t, srv.Connected())
	assert.True(t, cli.Connected())
}

func TestClientResendsLastCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, addr := startServer(t, ctx, staticReplies{command.WatchdogStatusList{1}})
	out := slot.New[command.Command]()
	cli := NewClient(ClientConfig{Address: addr}, out, nil, &recordingSink{}, logging.Discard())
	go cli.Run(ctx)

	out.Put(command.Command{Steering: -0.3})
	require.Eventually(t, func() bool { return srv.Received() >= 5 }, 2*time.Second, 10*time.Millisecond)
	c, _ := srv.Commands().Latest()
	assert.Equal(t, -0.3, c.Steering)
	assert.Zero(t, srv.Teardowns())
}

func TestServerDropsBadPeerAndAcceptsNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, addr := startServer(t, ctx, staticReplies{command.WatchdogStatusList{1}})

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(bad, []byte(`not json`)))
	require.Eventually(t, func() bool { return srv.Teardowns() == 1 }, time.Second, 5*time.Millisecond)
	bad.Close()

	good, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer good.Close()
	reply, err := wire.Exchange(good, []byte(`{"steering":0.1}`), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(reply))
}

func TestServerTimesOutSilentPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, addr := startServer(t, ctx, staticReplies{command.WatchdogStatusList{1}})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Teardowns() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, srv.Connected())
}

func TestClientClearsFollowerAndReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	out := slot.New[command.Command]()
	sink := &recordingSink{}
	cli := NewClient(ClientConfig{Address: addr, Retry: retry.Config{Delay: retry.MinDelay}}, out, nil, sink, logging.Discard())
	go cli.Run(ctx)

	// first peer answers once, then hangs up
	conn, err := ln.Accept()
	require.NoError(t, err)
	_, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, []byte(`[1,1]`)))
	require.Eventually(t, func() bool { _, n, _ := sink.snapshot(); return n == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool {
		l, _, clears := sink.snapshot()
		return clears > 0 && l == nil
	}, time.Second, 5*time.Millisecond)

	second, err := ln.Accept()
	require.NoError(t, err)
	defer second.Close()
	_, err = wire.ReadFrame(second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cli.Teardowns(), uint64(1))
	ln.Close()
}

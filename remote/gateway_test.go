package remote

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/types"
)

type fakeConn struct {
	dialer *fakeDialer
	host   string
	closed atomic.Bool
}

func (c *fakeConn) Exec(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error) {
	d := c.dialer
	n := d.inflight[c.host].Add(1)
	defer d.inflight[c.host].Add(-1)
	if n > 1 {
		d.overlap.Store(true)
	}

	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		d.stdin = append(d.stdin, string(data))
	}
	hook := d.onExec
	d.mu.Unlock()

	time.Sleep(time.Millisecond)
	if hook != nil {
		return hook(ctx, cmd)
	}
	return &ExecResult{Stdout: []byte("ok")}, nil
}

func (c *fakeConn) Upload(ctx context.Context, local, remote string) error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.dialer.uploads = append(c.dialer.uploads, local+"->"+remote)
	return nil
}

func (c *fakeConn) Download(ctx context.Context, remote, local string) error {
	return errors.New("no such file")
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	if c.host == "10.0.0.2" {
		return errors.New("close failed")
	}
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    map[string]int
	commands []string
	stdin    []string
	uploads  []string
	conns    []*fakeConn
	onExec   func(ctx context.Context, cmd string) (*ExecResult, error)
	inflight map[string]*atomic.Int32
	overlap  atomic.Bool
}

func newFakeDialer(hosts ...string) *fakeDialer {
	d := &fakeDialer{dials: map[string]int{}, inflight: map[string]*atomic.Int32{}}
	for _, h := range hosts {
		d.inflight[h] = &atomic.Int32{}
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, host *types.Host) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[host.Address]++
	c := &fakeConn{dialer: d, host: host.Address}
	d.conns = append(d.conns, c)
	return c, nil
}

func testHost(addr string) *types.Host {
	return &types.Host{Address: addr, User: "fabric", Password: "secret"}
}

func TestGatewayDialsLazilyAndReuses(t *testing.T) {
	d := newFakeDialer("10.0.0.1")
	g := NewGateway(d)
	ctx := context.Background()
	h := testHost("10.0.0.1")

	assert.False(t, g.Pool().Connected(h.Address))
	for i := 0; i < 3; i++ {
		res, err := g.Run(ctx, h, "docker ps")
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Stdout)
	}
	_, err := g.Upload(ctx, h, "/local/envelope.pb", "/tmp")
	require.NoError(t, err)

	assert.Equal(t, 1, d.dials[h.Address])
	assert.True(t, g.Pool().Connected(h.Address))
	assert.Equal(t, []string{"/local/envelope.pb->/tmp/envelope.pb"}, d.uploads)
}

func TestGatewaySerializesPerHost(t *testing.T) {
	d := newFakeDialer("10.0.0.1", "10.0.0.3")
	g := NewGateway(d)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := "10.0.0.1"
			if i%2 == 1 {
				addr = "10.0.0.3"
			}
			_, err := g.Run(ctx, testHost(addr), "hostname")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, d.overlap.Load(), "commands overlapped on one connection")
	assert.Equal(t, 1, d.dials["10.0.0.1"])
	assert.Equal(t, 1, d.dials["10.0.0.3"])
}

func TestGatewayFailFast(t *testing.T) {
	d := newFakeDialer("10.0.0.1")
	d.onExec = func(_ context.Context, cmd string) (*ExecResult, error) {
		return &ExecResult{Stdout: []byte("partial"), Stderr: []byte("Error: no such container"), ExitStatus: 2}, nil
	}
	g := NewGateway(d)
	h := testHost("10.0.0.1")

	res, err := g.Run(context.Background(), h, "docker logs peer0")
	require.Error(t, err)
	assert.True(t, errdefs.IsRemote(err))
	rerr, ok := errdefs.As[*errdefs.RemoteExecutionError](err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", rerr.Host)
	assert.Equal(t, "docker logs peer0", rerr.Command)
	assert.Equal(t, 2, rerr.ExitStatus)
	assert.Equal(t, "partial", rerr.Stdout)
	assert.Contains(t, err.Error(), "no such container")
	assert.Equal(t, 2, res.ExitStatus)

	res, err = g.Run(context.Background(), h, "docker logs peer0", ContinueOnError())
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.True(t, errdefs.IsRemote(res.Err))
}

func TestGatewayPrivileged(t *testing.T) {
	d := newFakeDialer("10.0.0.1", "10.0.0.5")
	g := NewGateway(d)
	ctx := context.Background()

	_, err := g.Run(ctx, testHost("10.0.0.1"), "rm -rf '/data'", Privileged())
	require.NoError(t, err)
	keyHost := &types.Host{Address: "10.0.0.5", User: "fabric", KeyFile: "/k"}
	_, err = g.Run(ctx, keyHost, "docker ps", Privileged())
	require.NoError(t, err)

	assert.Equal(t, []string{
		`sudo -S -p '' sh -c 'rm -rf '"'"'/data'"'"''`,
		`sudo -n sh -c 'docker ps'`,
	}, d.commands)
	assert.Equal(t, []string{"secret\n"}, d.stdin)
}

func TestPoolDropsBrokenConnection(t *testing.T) {
	d := newFakeDialer("10.0.0.1")
	broken := true
	d.onExec = func(_ context.Context, cmd string) (*ExecResult, error) {
		if broken {
			broken = false
			return nil, errors.Wrap(ErrBrokenConnection, "session closed")
		}
		return &ExecResult{}, nil
	}
	g := NewGateway(d)
	h := testHost("10.0.0.1")

	_, err := g.Run(context.Background(), h, "true")
	require.Error(t, err)
	assert.True(t, errdefs.IsRemote(err))
	assert.False(t, g.Pool().Connected(h.Address))

	_, err = g.Run(context.Background(), h, "true")
	require.NoError(t, err)
	assert.Equal(t, 2, d.dials[h.Address])
}

func TestPoolHonorsContextWhileWaiting(t *testing.T) {
	d := newFakeDialer("10.0.0.1")
	release := make(chan struct{})
	d.onExec = func(_ context.Context, cmd string) (*ExecResult, error) {
		<-release
		return &ExecResult{}, nil
	}
	g := NewGateway(d)
	h := testHost("10.0.0.1")

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = g.Run(context.Background(), h, "sleep 10")
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Run(ctx, h, "hostname")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestGatewayCommandTimeout(t *testing.T) {
	d := newFakeDialer("10.0.0.1")
	d.onExec = func(ctx context.Context, cmd string) (*ExecResult, error) {
		if cmd == "true" {
			return &ExecResult{}, nil
		}
		<-ctx.Done()
		return &ExecResult{ExitStatus: -1}, ctx.Err()
	}
	g := NewGateway(d, WithCommandTimeout(20*time.Millisecond))
	h := testHost("10.0.0.1")

	start := time.Now()
	_, err := g.Run(context.Background(), h, "peer channel fetch config")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errdefs.IsRemote(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	// the connection stays usable for the next command
	_, err = g.Run(context.Background(), h, "true")
	require.NoError(t, err)
	assert.Equal(t, 1, d.dials[h.Address])
}

func TestPoolCloseAggregatesErrors(t *testing.T) {
	d := newFakeDialer("10.0.0.1", "10.0.0.2")
	g := NewGateway(d)
	ctx := context.Background()
	_, err := g.Run(ctx, testHost("10.0.0.1"), "true")
	require.NoError(t, err)
	_, err = g.Run(ctx, testHost("10.0.0.2"), "true")
	require.NoError(t, err)

	err = g.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10.0.0.2: close failed")
	for _, c := range d.conns {
		assert.True(t, c.closed.Load())
	}

	_, err = g.Run(ctx, testHost("10.0.0.1"), "true")
	assert.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "'a b'", ShellQuote("a b"))
	assert.Equal(t, `'it'"'"'s'`, ShellQuote("it's"))
}

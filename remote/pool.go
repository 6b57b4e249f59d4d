package remote

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
)

// ErrBrokenConnection marks transport failures after which a pooled
// connection is discarded and dialed again on next use.
var ErrBrokenConnection = errors.New("connection broken")

// ExecResult is the raw outcome of one command on a connection.
type ExecResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Conn is one established session-capable connection to a host.
type Conn interface {
	// Exec runs cmd. A non-zero exit status is reported in the result, not
	// as an error; errors are transport failures.
	Exec(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error)
	Upload(ctx context.Context, local, remote string) error
	Download(ctx context.Context, remote, local string) error
	Close() error
}

// Dialer opens connections to hosts.
type Dialer interface {
	Dial(ctx context.Context, host *types.Host) (Conn, error)
}

// ConnectionPool keeps one lazily dialed connection per host address and
// allows one operation at a time on each.
type ConnectionPool struct {
	dialer Dialer

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool
}

type poolEntry struct {
	// sem is a one-slot semaphore so waiting honors ctx.
	sem  chan struct{}
	conn Conn
}

func NewConnectionPool(dialer Dialer) *ConnectionPool {
	return &ConnectionPool{
		dialer:  dialer,
		entries: make(map[string]*poolEntry),
	}
}

func (p *ConnectionPool) entry(address string) (*poolEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("connection pool is closed")
	}
	e, ok := p.entries[address]
	if !ok {
		e = &poolEntry{sem: make(chan struct{}, 1)}
		p.entries[address] = e
	}
	return e, nil
}

// Do runs fn with exclusive use of the connection to host, dialing it first
// if needed.
func (p *ConnectionPool) Do(ctx context.Context, host *types.Host, fn func(Conn) error) error {
	e, err := p.entry(host.Address)
	if err != nil {
		return err
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for connection to %s", host.Address)
	}
	defer func() { <-e.sem }()

	if e.conn == nil {
		conn, err := p.dialer.Dial(ctx, host)
		if err != nil {
			return errors.Wrapf(err, "failed to connect to %s", host.Address)
		}
		logger.Debugf("[Remote] connected to %s", host.Address)
		e.conn = conn
	}

	err = fn(e.conn)
	if errors.Is(err, ErrBrokenConnection) {
		logger.Warnf("[Remote] dropping broken connection to %s", host.Address)
		_ = e.conn.Close()
		e.conn = nil
	}
	return err
}

// Connected reports whether a live connection to address is pooled.
func (p *ConnectionPool) Connected(address string) bool {
	p.mu.Lock()
	e, ok := p.entries[address]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
		return e.conn != nil
	default:
		return true
	}
}

// Close closes every pooled connection and rejects further use.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.closed = true
	p.mu.Unlock()

	var msgs []string
	for address, e := range entries {
		e.sem <- struct{}{}
		if e.conn != nil {
			if err := e.conn.Close(); err != nil {
				msgs = append(msgs, address+": "+err.Error())
			}
			e.conn = nil
		}
		<-e.sem
	}
	if len(msgs) > 0 {
		return errors.Errorf("errors closing connections: %s", strings.Join(msgs, "; "))
	}
	return nil
}

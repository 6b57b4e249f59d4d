// Package remote runs commands and transfers files on network hosts.
package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
)

// Result is the outcome of a remote command.
type Result struct {
	Host       string
	Command    string
	Stdout     string
	Stderr     string
	ExitStatus int
	// Err is set when a failure was tolerated by ContinueOnError.
	Err error
}

// Failed reports whether the command did not succeed.
func (r *Result) Failed() bool {
	return r.Err != nil || r.ExitStatus != 0
}

// Executor is the remote surface used by the update pipeline and deploy
// operations. Gateway implements it over SSH.
type Executor interface {
	Run(ctx context.Context, host *types.Host, cmd string, opts ...RunOption) (*Result, error)
	// Upload copies a local file into remoteDir and returns the remote path.
	Upload(ctx context.Context, host *types.Host, local, remoteDir string) (string, error)
	Download(ctx context.Context, host *types.Host, remotePath, local string) error
}

type runOptions struct {
	privileged bool
	failFast   bool
}

// RunOption changes how a command is executed.
type RunOption func(*runOptions)

// Privileged runs the command through sudo.
func Privileged() RunOption {
	return func(o *runOptions) { o.privileged = true }
}

// ContinueOnError logs a failure and returns its result instead of an error.
func ContinueOnError() RunOption {
	return func(o *runOptions) { o.failFast = false }
}

// ApplyOptions resolves opts; exported for fakes that record them.
func ApplyOptions(opts ...RunOption) (privileged, failFast bool) {
	o := runOptions{failFast: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o.privileged, o.failFast
}

// Gateway executes remote operations over pooled connections.
type Gateway struct {
	pool           *ConnectionPool
	commandTimeout time.Duration
}

var _ Executor = (*Gateway)(nil)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCommandTimeout bounds every command run through the gateway. Zero
// leaves commands bounded only by the caller's context.
func WithCommandTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.commandTimeout = d }
}

// NewGateway returns a gateway owning a connection pool over dialer.
func NewGateway(dialer Dialer, opts ...GatewayOption) *Gateway {
	g := &Gateway{pool: NewConnectionPool(dialer)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Pool exposes the connection pool, mainly to report connection state.
func (g *Gateway) Pool() *ConnectionPool { return g.pool }

// Close closes every pooled connection.
func (g *Gateway) Close() error {
	return g.pool.Close()
}

func (g *Gateway) Run(ctx context.Context, host *types.Host, cmd string, opts ...RunOption) (*Result, error) {
	privileged, failFast := ApplyOptions(opts...)

	line, stdin := cmd, ""
	if privileged {
		line, stdin = sudoCommand(host, cmd)
	}
	logger.Infof("[%s] bash# %s", host.Address, cmd)

	res := &Result{Host: host.Address, Command: cmd}
	err := g.pool.Do(ctx, host, func(conn Conn) error {
		var input io.Reader
		if stdin != "" {
			input = strings.NewReader(stdin)
		}
		execCtx := ctx
		if g.commandTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, g.commandTimeout)
			defer cancel()
		}
		out, err := conn.Exec(execCtx, line, input)
		if out != nil {
			res.Stdout = string(out.Stdout)
			res.Stderr = string(out.Stderr)
			res.ExitStatus = out.ExitStatus
		}
		return err
	})

	if s := strings.TrimSpace(res.Stdout); s != "" {
		logger.Debugf("[%s] %s", host.Address, s)
	}
	if err == nil && res.ExitStatus == 0 {
		return res, nil
	}

	rerr := &errdefs.RemoteExecutionError{
		Host:       host.Address,
		Command:    cmd,
		ExitStatus: res.ExitStatus,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		Err:        err,
	}
	if failFast {
		return res, rerr
	}
	res.Err = rerr
	logger.Errorf("%v", rerr)
	return res, nil
}

func (g *Gateway) Upload(ctx context.Context, host *types.Host, local, remoteDir string) (string, error) {
	remotePath := path.Join(remoteDir, filepath.Base(local))
	logger.Infof("upload file %s to %s:%s", local, host.Address, remotePath)
	err := g.pool.Do(ctx, host, func(conn Conn) error {
		return conn.Upload(ctx, local, remotePath)
	})
	if err != nil {
		return "", &errdefs.RemoteExecutionError{
			Host:    host.Address,
			Command: fmt.Sprintf("upload %s -> %s", local, remotePath),
			Err:     err,
		}
	}
	return remotePath, nil
}

func (g *Gateway) Download(ctx context.Context, host *types.Host, remotePath, local string) error {
	err := g.pool.Do(ctx, host, func(conn Conn) error {
		return conn.Download(ctx, remotePath, local)
	})
	if err != nil {
		return &errdefs.RemoteExecutionError{
			Host:    host.Address,
			Command: fmt.Sprintf("download %s -> %s", remotePath, local),
			Err:     err,
		}
	}
	logger.Infof("download file %s from %s", remotePath, host.Address)
	return nil
}

// sudoCommand wraps cmd for sudo. With a password it is fed on stdin,
// otherwise sudo must not prompt.
func sudoCommand(host *types.Host, cmd string) (string, string) {
	if host.Password != "" {
		return "sudo -S -p '' sh -c " + ShellQuote(cmd), host.Password + "\n"
	}
	return "sudo -n sh -c " + ShellQuote(cmd), ""
}

// ShellQuote single-quotes value for a POSIX shell.
func ShellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

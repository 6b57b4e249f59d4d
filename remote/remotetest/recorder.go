// Package remotetest provides an in-memory remote.Executor for tests.
package remotetest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/remote"
)

// Call kinds.
const (
	KindRun      = "run"
	KindUpload   = "upload"
	KindDownload = "download"
)

// Call is one recorded operation.
type Call struct {
	Kind       string
	Host       string
	Command    string
	Local      string
	Remote     string
	Privileged bool
	FailFast   bool
}

// RunHandler answers a command. It may read and write the fake file system.
type RunHandler func(r *Recorder, host *types.Host, cmd string) (*remote.Result, error)

type handler struct {
	match string
	fn    RunHandler
}

// Recorder records every call and emulates a per-host file system so that
// uploads, "mv" commands and downloads behave like the real thing.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	handlers []handler
	files    map[string][]byte
}

var _ remote.Executor = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{files: make(map[string][]byte)}
}

// OnRun registers fn for commands containing match. Later registrations win.
func (r *Recorder) OnRun(match string, fn RunHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{match: match, fn: fn})
}

// FailRun makes commands containing match exit with status 1.
func (r *Recorder) FailRun(match, stderr string) {
	r.OnRun(match, func(_ *Recorder, host *types.Host, cmd string) (*remote.Result, error) {
		return &remote.Result{Host: host.Address, Command: cmd, Stderr: stderr, ExitStatus: 1}, nil
	})
}

// PutFile stores data at path on host.
func (r *Recorder) PutFile(host, p string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[key(host, p)] = append([]byte(nil), data...)
}

// File returns the content stored at path on host.
func (r *Recorder) File(host, p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[key(host, p)]
	return data, ok
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns recorded calls of one kind.
func (r *Recorder) CallsOf(kind string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Commands returns the commands run, in order.
func (r *Recorder) Commands() []string {
	var out []string
	for _, c := range r.CallsOf(KindRun) {
		out = append(out, c.Command)
	}
	return out
}

// CountContaining counts run commands containing substr.
func (r *Recorder) CountContaining(substr string) int {
	n := 0
	for _, cmd := range r.Commands() {
		if strings.Contains(cmd, substr) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps handlers and files.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) Run(ctx context.Context, host *types.Host, cmd string, opts ...remote.RunOption) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	privileged, failFast := remote.ApplyOptions(opts...)
	r.record(Call{Kind: KindRun, Host: host.Address, Command: cmd, Privileged: privileged, FailFast: failFast})

	res, err := r.dispatch(host, cmd)
	if err == nil && res.ExitStatus == 0 {
		return res, nil
	}
	rerr := &errdefs.RemoteExecutionError{
		Host: host.Address, Command: cmd, ExitStatus: res.ExitStatus,
		Stdout: res.Stdout, Stderr: res.Stderr, Err: err,
	}
	if failFast {
		return res, rerr
	}
	res.Err = rerr
	return res, nil
}

func (r *Recorder) dispatch(host *types.Host, cmd string) (*remote.Result, error) {
	r.mu.Lock()
	var fn RunHandler
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if strings.Contains(cmd, r.handlers[i].match) {
			fn = r.handlers[i].fn
			break
		}
	}
	r.mu.Unlock()

	if fn != nil {
		res, err := fn(r, host, cmd)
		if res == nil {
			res = &remote.Result{Host: host.Address, Command: cmd}
		}
		return res, err
	}

	res := &remote.Result{Host: host.Address, Command: cmd}
	if fields := strings.Fields(cmd); len(fields) == 3 && fields[0] == "mv" {
		if err := r.move(host.Address, fields[1], fields[2]); err != nil {
			res.ExitStatus = 1
			res.Stderr = err.Error()
		}
	}
	return res, nil
}

func (r *Recorder) move(host, src, dst string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[key(host, src)]
	if !ok {
		return errors.Errorf("mv: cannot stat '%s': No such file or directory", src)
	}
	if strings.HasSuffix(dst, "/") {
		dst = path.Join(dst, path.Base(src))
	}
	delete(r.files, key(host, src))
	r.files[key(host, dst)] = data
	return nil
}

func (r *Recorder) Upload(ctx context.Context, host *types.Host, local, remoteDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	remotePath := path.Join(remoteDir, filepath.Base(local))
	r.record(Call{Kind: KindUpload, Host: host.Address, Local: local, Remote: remotePath})

	data, err := os.ReadFile(local)
	if err != nil {
		return "", &errdefs.RemoteExecutionError{Host: host.Address, Command: "upload " + local, Err: err}
	}
	r.PutFile(host.Address, remotePath, data)
	return remotePath, nil
}

func (r *Recorder) Download(ctx context.Context, host *types.Host, remotePath, local string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.record(Call{Kind: KindDownload, Host: host.Address, Local: local, Remote: remotePath})

	data, ok := r.File(host.Address, remotePath)
	if !ok {
		return &errdefs.RemoteExecutionError{
			Host:    host.Address,
			Command: "download " + remotePath,
			Err:     errors.Errorf("%s: no such file", remotePath),
		}
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	return os.WriteFile(local, data, 0644)
}

func key(host, p string) string {
	return host + ":" + path.Clean(p)
}

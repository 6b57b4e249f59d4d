// Package deploy orchestrates network operations on top of the topology
// registry, the remote gateway and the update pipeline.
package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/orderer"
	"github.com/ddr4869/fabctl/pipeline"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/storage"
	"github.com/ddr4869/fabctl/topology"
	"github.com/ddr4869/fabctl/translator"
)

// Options wires a Context.
type Options struct {
	Registry *topology.Registry
	Executor remote.Executor
	Pipeline *pipeline.Pipeline
	Tools    translator.Describer
	Ledger   *storage.Ledger
	Layout   configtx.Layout
	// GenesisProfile generates the consortiums added to the system channel.
	GenesisProfile string
	// Orderer probes the ordering service; nil uses the first orderer.
	Orderer pipeline.OrdererSelector
	// TmpDir and ScriptDir live on the remote hosts.
	TmpDir    string
	ScriptDir string
	// Parallelism bounds how many channels ExtendFromFile updates at once.
	Parallelism int
}

// Context runs deployment operations against one loaded network.
type Context struct {
	opts Options
}

// New validates opts and returns a Context. TmpDir defaults to /tmp and
// Parallelism to 1.
func New(opts Options) (*Context, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("deploy context requires a topology registry")
	case opts.Executor == nil:
		return nil, errors.New("deploy context requires a remote executor")
	case opts.Pipeline == nil:
		return nil, errors.New("deploy context requires an update pipeline")
	case opts.Tools == nil:
		return nil, errors.New("deploy context requires a translator")
	case opts.Ledger == nil:
		return nil, errors.New("deploy context requires a state ledger")
	}
	if opts.TmpDir == "" {
		opts.TmpDir = "/tmp"
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Context{opts: opts}, nil
}

// Registry returns the topology the context operates on.
func (c *Context) Registry() *topology.Registry { return c.opts.Registry }

func (c *Context) ordererService(ctx context.Context) (string, error) {
	if c.opts.Orderer == nil {
		return c.opts.Registry.FirstOrdererService()
	}
	endpoints, err := orderer.Endpoints(c.opts.Registry)
	if err != nil {
		return "", err
	}
	return c.opts.Orderer.Select(ctx, endpoints)
}

// run executes cmd on host. A missing container is reported as a warning.
func (c *Context) run(ctx context.Context, host *types.Host, cmd string, opts ...remote.RunOption) error {
	_, err := c.opts.Executor.Run(ctx, host, cmd, opts...)
	if err == nil {
		return nil
	}
	if rerr, ok := errdefs.As[*errdefs.RemoteExecutionError](err); ok &&
		(strings.Contains(rerr.Stderr, "No such container") || strings.Contains(rerr.Stdout, "No such container")) {
		logger.Warnf("[%s] docker container stopped: %s", host.Address, strings.TrimSpace(rerr.Stderr))
		return nil
	}
	return err
}

// WriteHostsFile writes the domain.cfg hosts file to path.
func (c *Context) WriteHostsFile(path string) error {
	content := c.opts.Registry.HostsFile()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create hosts file directory")
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	logger.Infof("✅ hosts file written to %s", path)
	return nil
}

func splitLine() {
	logger.Infof("%s", strings.Repeat("*", 45))
}

package translator

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
)

// Command is one tool invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
}

func (c *Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes a command and returns its stdout and stderr.
type Runner func(ctx context.Context, cmd *Command) (stdout, stderr []byte, err error)

// OSRunner runs commands as local processes.
func OSRunner(ctx context.Context, c *Command) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecOptions locates the Fabric tools and their working tree.
type ExecOptions struct {
	Configtxlator string
	Configtxgen   string
	// ConfigPath is exported as FABRIC_CFG_PATH.
	ConfigPath string
	Layout     configtx.Layout
}

// Exec drives the configtxlator and configtxgen binaries. Commands run in
// the configtx output directory.
type Exec struct {
	opts ExecOptions
	run  Runner
}

var _ Toolchain = (*Exec)(nil)

func NewExec(opts ExecOptions) *Exec {
	if opts.Configtxlator == "" {
		opts.Configtxlator = "configtxlator"
	}
	if opts.Configtxgen == "" {
		opts.Configtxgen = "configtxgen"
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = opts.Layout.Root
	}
	return &Exec{opts: opts, run: OSRunner}
}

// WithRunner replaces how commands are executed.
func (e *Exec) WithRunner(r Runner) *Exec {
	e.run = r
	return e
}

func (e *Exec) command(name string, stdin []byte, args ...string) *Command {
	return &Command{
		Name:  name,
		Args:  args,
		Dir:   e.opts.Layout.Root,
		Env:   []string{"FABRIC_CFG_PATH=" + e.opts.ConfigPath},
		Stdin: stdin,
	}
}

func (e *Exec) invoke(ctx context.Context, op string, cmd *Command) ([]byte, error) {
	logger.Debugf("[Translator] %s", cmd)
	stdout, stderr, err := e.run(ctx, cmd)
	if err != nil {
		output := stderr
		if len(bytes.TrimSpace(output)) == 0 {
			output = stdout
		}
		return nil, errdefs.Adapter(op, output, err)
	}
	return stdout, nil
}

func (e *Exec) DecodeBlockToJSON(ctx context.Context, block []byte) ([]byte, error) {
	return e.DecodePBToJSON(ctx, MsgBlock, block)
}

func (e *Exec) EncodeJSONToPB(ctx context.Context, msgType string, data []byte) ([]byte, error) {
	cmd := e.command(e.opts.Configtxlator, data, "proto_encode", "--type", msgType)
	return e.invoke(ctx, "proto_encode "+msgType, cmd)
}

func (e *Exec) DecodePBToJSON(ctx context.Context, msgType string, data []byte) ([]byte, error) {
	cmd := e.command(e.opts.Configtxlator, data, "proto_decode", "--type", msgType)
	return e.invoke(ctx, "proto_decode "+msgType, cmd)
}

func (e *Exec) ComputeDelta(ctx context.Context, channelID string, original, modified []byte) ([]byte, error) {
	const op = "compute_update"
	dir, err := os.MkdirTemp("", "fabctl-delta-")
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	defer os.RemoveAll(dir)

	origPath := filepath.Join(dir, "config.pb")
	modPath := filepath.Join(dir, "modified_config.pb")
	if err := os.WriteFile(origPath, original, 0644); err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	if err := os.WriteFile(modPath, modified, 0644); err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}

	cmd := e.command(e.opts.Configtxlator, nil, "compute_update",
		"--channel_id", channelID, "--original", origPath, "--updated", modPath)
	return e.invoke(ctx, op, cmd)
}

// DescribeOrganization runs configtxgen -printOrg and caches the result
// under the configtx orgs directory.
func (e *Exec) DescribeOrganization(ctx context.Context, mspID string) ([]byte, error) {
	op := "configtxgen -printOrg " + mspID
	cache := e.opts.Layout.OrgJSONPath(mspID)
	if data, err := os.ReadFile(cache); err == nil && len(bytes.TrimSpace(data)) > 0 {
		logger.Debugf("[Translator] using cached %s", cache)
		return data, nil
	}

	doc, err := e.loadConfigtx(op)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Organization(mspID); !ok {
		return nil, errdefs.Adapter(op, nil, errors.Errorf("organization %s is not defined in %s", mspID, e.opts.Layout.ConfigFile()))
	}

	out, err := e.invoke(ctx, op, e.command(e.opts.Configtxgen, nil, "-printOrg", mspID, "--configPath", "./"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cache), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create orgs directory")
	}
	if err := os.WriteFile(cache, out, 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", cache)
	}
	return out, nil
}

func (e *Exec) GenerateSystemGenesis(ctx context.Context, profile, channelID, output string) ([]byte, error) {
	op := "configtxgen -outputBlock " + profile
	if err := e.checkProfile(op, profile); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create genesis directory")
	}
	cmd := e.command(e.opts.Configtxgen, nil, "-outputBlock", e.relative(output), "-profile", profile, "-channelID", channelID)
	if _, err := e.invoke(ctx, op, cmd); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return nil, errdefs.Adapter(op, nil, errors.Wrap(err, "genesis block was not written"))
	}
	return data, nil
}

func (e *Exec) GenerateChannelTx(ctx context.Context, profile, channelID, output string) error {
	op := "configtxgen -outputCreateChannelTx " + profile
	if err := e.checkProfile(op, profile); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return errors.Wrap(err, "failed to create genesis directory")
	}
	cmd := e.command(e.opts.Configtxgen, nil, "-outputCreateChannelTx", e.relative(output), "-profile", profile, "-channelID", channelID)
	_, err := e.invoke(ctx, op, cmd)
	return err
}

func (e *Exec) loadConfigtx(op string) (*configtx.Document, error) {
	doc, err := configtx.Load(e.opts.Layout.ConfigFile())
	if err != nil {
		return nil, errdefs.Adapter(op, nil, err)
	}
	return doc, nil
}

func (e *Exec) checkProfile(op, profile string) error {
	doc, err := e.loadConfigtx(op)
	if err != nil {
		return err
	}
	if _, err := doc.Profile(profile); err != nil {
		return errdefs.Adapter(op, nil, err)
	}
	return nil
}

// relative expresses path against the working directory when it lies inside it.
func (e *Exec) relative(path string) string {
	rel, err := filepath.Rel(e.opts.Layout.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/topology"
)

// ModuleDocker installs or detects the docker engine on hosts.
const ModuleDocker = "docker"

// Mode selects what Install does with each element.
type Mode int

const (
	// ModeInstall installs then detects.
	ModeInstall Mode = iota
	ModeDetect
	ModeUninstall
	ModeRestart
)

func (m Mode) String() string {
	switch m {
	case ModeInstall:
		return "install"
	case ModeDetect:
		return "detect"
	case ModeUninstall:
		return "uninstall"
	case ModeRestart:
		return "restart"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Install applies mode to every element of module selected by hosts and orgs,
// one element at a time.
func (c *Context) Install(ctx context.Context, module string, hosts, orgs []string, mode Mode) error {
	if strings.EqualFold(module, ModuleDocker) {
		return c.installDocker(ctx, hosts, mode)
	}
	role, err := types.ParseRole(module)
	if err != nil {
		return err
	}
	targets, err := c.opts.Registry.ResolveDispatchTargets(topology.DispatchRequest{
		Roles: []types.Role{role}, Hosts: hosts, Orgs: orgs,
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := c.installElement(ctx, t, mode); err != nil {
			return err
		}
		splitLine()
	}
	return nil
}

func (c *Context) installElement(ctx context.Context, t topology.Target, mode Mode) error {
	e, host := t.Element, t.Host
	logger.Infof("Start to %s %s in %s.", mode, e.Role, host)

	switch mode {
	case ModeDetect:
		return c.run(ctx, host, strings.Join(e.DetectCommands(), " && "))
	case ModeRestart:
		cmds, err := e.RestartCommands()
		if err != nil {
			return err
		}
		return c.run(ctx, host, strings.Join(cmds, " && "))
	case ModeUninstall:
		cmds, err := e.UninstallCommands()
		if err != nil {
			return err
		}
		if err := c.run(ctx, host, strings.Join(cmds, " && ")); err != nil {
			return err
		}
		logger.Infof("Uninstall module finished!")
		return nil
	}

	if _, err := os.Stat(e.ArchivePath()); err == nil {
		if _, err := c.opts.Executor.Upload(ctx, host, e.ArchivePath(), c.opts.TmpDir); err != nil {
			return err
		}
		if err := c.run(ctx, host, strings.Join(e.UnzipCommands(), " && ")); err != nil {
			return err
		}
	} else {
		logger.Warnf("package %s not found, expecting scripts on %s", e.ArchivePath(), host.Address)
	}
	if err := c.run(ctx, host, strings.Join(e.InstallCommands(), " && ")); err != nil {
		return err
	}
	logger.Infof("Start to detect %s in %s.", e.Role, host)
	return c.run(ctx, host, strings.Join(e.DetectCommands(), " && "))
}

var dockerInstallCommands = []string{
	"command -v docker >/dev/null 2>&1 || { curl -fsSL https://get.docker.com | sudo sh; }",
	"command -v docker-compose >/dev/null 2>&1 || { sudo apt-get install docker-compose -y; }",
	"sudo usermod -aG docker $USER",
}

func (c *Context) hostsOf(keys []string) ([]*types.Host, error) {
	if len(keys) == 0 {
		return c.opts.Registry.Hosts(), nil
	}
	hosts := make([]*types.Host, 0, len(keys))
	for _, k := range keys {
		h, err := c.opts.Registry.ResolveHost(k, true)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (c *Context) installDocker(ctx context.Context, keys []string, mode Mode) error {
	hosts, err := c.hostsOf(keys)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		switch mode {
		case ModeDetect:
			if _, err := c.opts.Executor.Run(ctx, h, "docker -v && docker-compose -v", remote.ContinueOnError()); err != nil {
				return err
			}
		case ModeUninstall, ModeRestart:
			logger.Warnf("Don't support to %s docker in %s", mode, h)
		default:
			logger.Infof("Start to install docker in %s", h)
			if _, err := c.opts.Executor.Run(ctx, h, strings.Join(dockerInstallCommands, " && ")); err != nil {
				return errors.Wrapf(err, "failed to install docker in %s", h.Address)
			}
			logger.Infof("Install docker finished!")
			splitLine()
		}
	}
	return nil
}

// CleanEnv removes every container, the script directory, /data and the
// non-hyperledger images on every host. Failures are logged and skipped.
func (c *Context) CleanEnv(ctx context.Context) error {
	for _, h := range c.opts.Registry.Hosts() {
		logger.Infof("Clear %s env ...", h)
		if _, err := c.opts.Executor.Run(ctx, h, c.cleanCommand(), remote.ContinueOnError()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) cleanCommand() string {
	cmds := []string{
		`sh -c 'CONTAINERS=$(docker ps -qa); if [ -n "$CONTAINERS" ]; then sudo docker rm -f $CONTAINERS; fi'`,
	}
	if dir := c.opts.ScriptDir; dir != "" && dir != "/" {
		cmds = append(cmds, fmt.Sprintf("sh -c 'if [ -x %s ]; then sudo rm -rf %s; fi'", dir, dir))
	}
	cmds = append(cmds,
		"sh -c 'if [ -x /data ]; then sudo rm -rf /data; fi'",
		`docker images | grep "^hyperledger" | awk '{print $3}' > /tmp/h`,
		"docker images -q > /tmp/a",
		`sh -c 'IMAGES=$(sort /tmp/a /tmp/h | uniq -u); if [ -n "$IMAGES" ]; then sudo docker rmi $IMAGES; fi'`,
	)
	return strings.Join(cmds, " && ")
}

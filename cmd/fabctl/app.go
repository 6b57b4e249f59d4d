package main

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/cert"
	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/config"
	"github.com/ddr4869/fabctl/deploy"
	"github.com/ddr4869/fabctl/orderer"
	"github.com/ddr4869/fabctl/pipeline"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/storage"
	"github.com/ddr4869/fabctl/topology"
	"github.com/ddr4869/fabctl/translator"
)

// app is the wired network for one command.
type app struct {
	deployment *config.Deployment
	registry   *topology.Registry
	ledger     *storage.Ledger
	gateway    *remote.Gateway
	store      *configtx.Store
	deploy     *deploy.Context
}

func loadDeployment() (*config.Deployment, error) {
	return config.LoadDeployment(cfg.Deployment)
}

// newApp loads d into a registry, restores committed membership from the
// state ledger and wires the pipeline.
func newApp(d *config.Deployment) (*app, error) {
	registry, err := topology.Load(d, topology.Layout{
		CryptoDir:  cfg.CryptoDir(),
		ComposeDir: cfg.ComposeDir(),
		PackageDir: cfg.PackageDir(),
		ScriptDir:  cfg.Remote.ScriptDir,
		TmpDir:     cfg.Remote.TmpDir,
	})
	if err != nil {
		return nil, err
	}

	ledger, err := storage.Open(cfg.State.Path)
	if err != nil {
		return nil, err
	}
	if err := registry.RestoreMembership(ledger); err != nil {
		ledger.Close()
		return nil, err
	}

	layout := configtx.NewLayout(cfg.ConfigtxDir())
	exec := translator.NewExec(translator.ExecOptions{
		Configtxlator: cfg.Tools.Configtxlator,
		Configtxgen:   cfg.Tools.Configtxgen,
		ConfigPath:    cfg.Tools.ConfigPath,
		Layout:        layout,
	})
	var tools translator.Toolchain = exec
	if cfg.Translator.Mode == config.TranslatorNative {
		tools = translator.Combine(translator.NewNative(), translator.NewNativeDescriber(layout, exec))
	}

	gateway := remote.NewGateway(remote.NewSSHDialer(remote.SSHOptions{
		Port:                  cfg.SSH.Port,
		Timeout:               cfg.SSH.Timeout,
		KnownHosts:            cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
	}), remote.WithCommandTimeout(cfg.SSH.CommandTimeout))

	var selector pipeline.OrdererSelector
	if cfg.Orderer.Probe {
		caFile := cfg.Orderer.TLSCAFile
		if caFile == "" {
			if found, err := cert.OrdererTLSCAFile(cfg.CryptoDir(), registry.Domain()); err == nil {
				caFile = found
			} else {
				logger.Warnf("[Orderer] no TLS CA found, probing in plaintext: %v", err)
			}
		}
		selector = orderer.NewProber(orderer.ProbeOptions{
			Timeout:   cfg.Orderer.ProbeTimeout,
			TLSCAFile: caFile,
		})
	}

	store := configtx.NewStore(layout.ChannelsDir())
	p, err := pipeline.New(pipeline.Options{
		Registry: registry,
		Executor: gateway,
		Tools:    tools,
		Store:    store,
		Ledger:   ledger,
		Orderer:  selector,
		TmpDir:   cfg.Remote.TmpDir,
	})
	if err != nil {
		ledger.Close()
		return nil, err
	}
	dc, err := deploy.New(deploy.Options{
		Registry:       registry,
		Executor:       gateway,
		Pipeline:       p,
		Tools:          tools,
		Ledger:         ledger,
		Layout:         layout,
		GenesisProfile: d.GenesisProfile(),
		Orderer:        selector,
		TmpDir:         cfg.Remote.TmpDir,
		ScriptDir:      cfg.Remote.ScriptDir,
		Parallelism:    cfg.Pipeline.Parallelism,
	})
	if err != nil {
		ledger.Close()
		return nil, err
	}

	return &app{
		deployment: d,
		registry:   registry,
		ledger:     ledger,
		gateway:    gateway,
		store:      store,
		deploy:     dc,
	}, nil
}

func openApp() (*app, error) {
	d, err := loadDeployment()
	if err != nil {
		return nil, err
	}
	return newApp(d)
}

func (a *app) Close() {
	logger.LogIfError(a.gateway.Close(), "failed to close ssh connections")
	logger.LogIfError(a.ledger.Close(), "failed to close state ledger")
}

func hostsFilePath() string {
	return filepath.Join(cfg.Output, "domain.cfg")
}

func requireFlag(name, value string) error {
	if value == "" {
		return errors.Errorf("--%s must be provided", name)
	}
	return nil
}

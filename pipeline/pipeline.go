// Package pipeline turns a fetched channel config block and an Addition into
// a config update envelope, collects the signatures of every affected
// organization and submits it to the ordering service.
//
// A run is a fixed sequence of stages. Each stage persists its artifact
// through the configtx.Store, so a failed run leaves every intermediate file
// on disk for inspection. Runs on one channel are serialized.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/orderer"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/storage"
	"github.com/ddr4869/fabctl/topology"
	"github.com/ddr4869/fabctl/translator"
)

// Stage names, in run order. Describe precedes the numbered stages.
const (
	StageDescribe    = "describe"
	StageFetch       = "fetch"
	StageDecode      = "decode"
	StageExtract     = "extract"
	StageModify      = "modify"
	StageEncode      = "encode"
	StageDiff        = "diff"
	StageDecodeDelta = "decode-delta"
	StageEnvelope    = "envelope"
	StageSign        = "sign"
	StageSubmit      = "submit"
)

// Stages lists the stage names in run order.
var Stages = []string{
	StageDescribe, StageFetch, StageDecode, StageExtract, StageModify, StageEncode,
	StageDiff, StageDecodeDelta, StageEnvelope, StageSign, StageSubmit,
}

// OrdererSelector picks a live ordering endpoint.
type OrdererSelector interface {
	Select(ctx context.Context, endpoints []orderer.Endpoint) (string, error)
}

// Options wires a Pipeline.
type Options struct {
	Registry *topology.Registry
	Executor remote.Executor
	Tools    translator.Toolchain
	Store    *configtx.Store
	Ledger   *storage.Ledger
	// Orderer probes the ordering service; nil uses the first orderer.
	Orderer OrdererSelector
	// TmpDir is the remote staging directory for uploads.
	TmpDir string
}

// Pipeline runs configuration updates.
type Pipeline struct {
	opts Options

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New validates opts and returns a Pipeline. Runs on one channel are
// serialized; TmpDir defaults to /tmp.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("pipeline requires a topology registry")
	case opts.Executor == nil:
		return nil, errors.New("pipeline requires a remote executor")
	case opts.Tools == nil:
		return nil, errors.New("pipeline requires a translator")
	case opts.Store == nil:
		return nil, errors.New("pipeline requires an artifact store")
	case opts.Ledger == nil:
		return nil, errors.New("pipeline requires a state ledger")
	}
	if opts.TmpDir == "" {
		opts.TmpDir = "/tmp"
	}
	return &Pipeline{opts: opts, locks: make(map[string]chan struct{})}, nil
}

// Result describes a submitted update.
type Result struct {
	ChannelID      string
	Subject        string
	SignedEnvelope string
	Signers        []string
	// Resumed lists signers whose signature was kept from an earlier run.
	Resumed []string
	Orderer string
}

// lock serializes runs per channel; waiting honors ctx.
func (p *Pipeline) lock(ctx context.Context, channelID string) (func(), error) {
	p.mu.Lock()
	sem, ok := p.locks[channelID]
	if !ok {
		sem = make(chan struct{}, 1)
		p.locks[channelID] = sem
	}
	p.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for channel %s", channelID)
	}
}

// Run applies add to channelID. The first failing stage aborts the run with
// an *errdefs.StageError; remote state is not rolled back.
func (p *Pipeline) Run(ctx context.Context, channelID string, add Addition) (*Result, error) {
	if err := validateAddition(add); err != nil {
		return nil, err
	}
	channelID = strings.ToLower(channelID)

	unlock, err := p.lock(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := p.prepare(ctx, channelID, add)
	if err != nil {
		return nil, err
	}

	logger.Infof("[Pipeline] start to update channel<%s>, add %s", channelID, r.subject)
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageDescribe, r.describe},
		{StageFetch, r.fetch},
		{StageDecode, r.decode},
		{StageExtract, r.extract},
		{StageModify, r.modify},
		{StageEncode, r.encode},
		{StageDiff, r.diff},
		{StageDecodeDelta, r.decodeDelta},
		{StageEnvelope, r.envelope},
		{StageSign, r.sign},
		{StageSubmit, r.submit},
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, &errdefs.StageError{Stage: step.name, Err: err}
		}
		logger.Infof("[Pipeline] step %d %s", i, step.name)
		r.artifact = ""
		if err := step.fn(ctx); err != nil {
			logger.Errorf("[Pipeline] step %d %s failed: %v", i, step.name, err)
			return nil, &errdefs.StageError{Stage: step.name, Artifact: r.artifact, Err: err}
		}
	}

	logger.Infof("✅ channel<%s> updated with %s", channelID, r.subject)
	return r.result, nil
}

func (p *Pipeline) prepare(ctx context.Context, channelID string, add Addition) (*run, error) {
	reg := p.opts.Registry
	ch, err := reg.Channel(channelID)
	if err != nil {
		return nil, err
	}

	r := &run{
		p:       p,
		channel: ch,
		add:     add,
		subject: add.Subject(),
	}

	switch a := add.(type) {
	case AddOrganization:
		if ch.IsSystem() {
			return nil, errdefs.Topology("organizations are added to application channels, not %s", ch.ID)
		}
		if !reg.HasOrganization(a.Name) {
			return nil, errdefs.TopologyNotFound("Org: %s is invalid", a.Name)
		}
		if len(ch.Members) == 0 {
			return nil, errdefs.Topology("channel %s has no member organization", ch.ID)
		}
		for _, member := range ch.Members {
			cli, err := reg.FirstPeerCLI(member)
			if err != nil {
				return nil, err
			}
			r.signers = append(r.signers, cli)
		}
		r.caFile = reg.PeerCLITLSCA()
	case AddConsortium:
		if !ch.IsSystem() {
			return nil, errdefs.Topology("consortiums are added to the system channel, not %s", ch.ID)
		}
		cli, err := reg.FirstOrdererCLI()
		if err != nil {
			return nil, err
		}
		r.signers = []*topology.Element{cli}
		r.caFile = reg.OrdererCLITLSCA()
	}
	r.admin = r.signers[0]

	if r.orderer, err = p.selectOrderer(ctx); err != nil {
		return nil, err
	}
	r.result = &Result{ChannelID: ch.ID, Subject: r.subject, Orderer: r.orderer}
	return r, nil
}

func (p *Pipeline) selectOrderer(ctx context.Context) (string, error) {
	if p.opts.Orderer == nil {
		return p.opts.Registry.FirstOrdererService()
	}
	endpoints, err := orderer.Endpoints(p.opts.Registry)
	if err != nil {
		return "", err
	}
	return p.opts.Orderer.Select(ctx, endpoints)
}

package pipeline

import (
	"context"
	"os"
	"path"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/blockutil"
	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/peer/channel"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/storage"
	"github.com/ddr4869/fabctl/topology"
	"github.com/ddr4869/fabctl/translator"
)

// run carries the state of one Pipeline.Run.
type run struct {
	p       *Pipeline
	channel *topology.Channel
	add     Addition
	subject string

	admin   *topology.Element
	signers []*topology.Element
	caFile  string
	orderer string

	// payload is the described member: an organization config group, or the
	// config of a freshly generated system genesis.
	payload blockutil.Document
	// artifact names the file the current stage produces.
	artifact string
	result   *Result
}

func (r *run) store() *configtx.Store      { return r.p.opts.Store }
func (r *run) tools() translator.Toolchain { return r.p.opts.Tools }

func (r *run) path(a configtx.Artifact) string {
	return r.store().Path(r.channel.ID, r.subject, a)
}

func (r *run) produce(a configtx.Artifact) {
	r.artifact = a.FileName(r.subject)
}

func (r *run) read(a configtx.Artifact) ([]byte, error) {
	return r.store().Read(r.channel.ID, r.subject, a)
}

func (r *run) write(a configtx.Artifact, data []byte) error {
	_, err := r.store().Write(r.channel.ID, r.subject, a, data)
	return err
}

func (r *run) writeJSON(a configtx.Artifact, doc blockutil.Document) error {
	_, err := r.store().WriteJSON(r.channel.ID, r.subject, a, doc)
	return err
}

func (r *run) readJSON(a configtx.Artifact) (blockutil.Document, error) {
	data, err := r.read(a)
	if err != nil {
		return nil, err
	}
	return blockutil.DecodeJSON(data)
}

func (r *run) host(e *topology.Element) (*types.Host, error) {
	return r.p.opts.Registry.ResolveHost(e.Address, true)
}

func (r *run) exec() remote.Executor { return r.p.opts.Executor }

// describe produces the payload of the addition.
func (r *run) describe(ctx context.Context) error {
	switch a := r.add.(type) {
	case AddOrganization:
		data, err := r.tools().DescribeOrganization(ctx, a.MSPID)
		if err != nil {
			return err
		}
		org, err := blockutil.DecodeJSON(data)
		if err != nil {
			return errors.Wrapf(err, "invalid description of %s", a.MSPID)
		}
		r.payload = org

	case AddConsortium:
		r.artifact = "system.pb"
		output := r.store().FilePath(r.channel.ID, r.subject, "system.pb")
		block, err := r.tools().GenerateSystemGenesis(ctx, a.GenesisProfile, configtx.SystemChannelID, output)
		if err != nil {
			return err
		}
		r.artifact = "system.json"
		data, err := r.tools().DecodeBlockToJSON(ctx, block)
		if err != nil {
			return err
		}
		doc, err := blockutil.DecodeJSON(data)
		if err != nil {
			return err
		}
		if r.payload, err = blockutil.ExtractConfig(doc); err != nil {
			return err
		}
		canonical, err := configtx.MarshalJSON(doc)
		if err != nil {
			return err
		}
		if _, err := r.store().WriteFile(r.channel.ID, r.subject, "system.json", canonical); err != nil {
			return err
		}
	}
	logger.Infof("[Pipeline] described %s", r.subject)
	return nil
}

// fetch pulls the latest config block through the admin cli container.
func (r *run) fetch(ctx context.Context) error {
	r.produce(configtx.Block)
	host, err := r.host(r.admin)
	if err != nil {
		return err
	}

	name := channel.FetchFileName(r.channel.ID)
	f := channel.FetchConfig(r.admin, r.channel.ID, name, r.orderer, r.caFile)
	if _, err := r.exec().Run(ctx, host, f.Command, remote.Privileged()); err != nil {
		return err
	}
	if err := r.exec().Download(ctx, host, f.RemotePath, r.path(configtx.Block)); err != nil {
		return err
	}
	r.cleanup(ctx, host, r.admin, name)

	logger.Infof("[Pipeline] fetched config block of %s from %s", r.channel.ID, r.admin.RoleDomain)
	return nil
}

func (r *run) decode(ctx context.Context) error {
	r.produce(configtx.BlockJSON)
	block, err := r.read(configtx.Block)
	if err != nil {
		return err
	}
	data, err := r.tools().DecodeBlockToJSON(ctx, block)
	if err != nil {
		return err
	}
	doc, err := blockutil.DecodeJSON(data)
	if err != nil {
		return err
	}
	return r.writeJSON(configtx.BlockJSON, doc)
}

func (r *run) extract(context.Context) error {
	r.produce(configtx.ConfigSnapshotJSON)
	block, err := r.readJSON(configtx.BlockJSON)
	if err != nil {
		return err
	}
	config, err := blockutil.ExtractConfig(block)
	if err != nil {
		return err
	}
	return r.writeJSON(configtx.ConfigSnapshotJSON, config)
}

// modify inserts the payload into the snapshot. An addition that is already
// present is a conflict.
func (r *run) modify(context.Context) error {
	r.produce(configtx.ModifiedConfigJSON)
	config, err := r.readJSON(configtx.ConfigSnapshotJSON)
	if err != nil {
		return err
	}

	switch a := r.add.(type) {
	case AddOrganization:
		if r.channel.HasMember(a.Name) {
			return errdefs.Conflict("organization", a.Name, "channel "+r.channel.ID)
		}
		logger.Infof("[Pipeline] add Organization<%s> to config", a.MSPID)
		if err := blockutil.InsertOrganization(config, r.channel.ID, a.MSPID, r.payload); err != nil {
			return err
		}
	case AddConsortium:
		logger.Infof("[Pipeline] add Consortium<%s> to config", a.Name)
		if err := blockutil.InsertConsortium(config, a.Name, r.payload); err != nil {
			return err
		}
	}
	return r.writeJSON(configtx.ModifiedConfigJSON, config)
}

func (r *run) encode(ctx context.Context) error {
	for _, pair := range [][2]configtx.Artifact{
		{configtx.ConfigSnapshotJSON, configtx.ConfigSnapshotPB},
		{configtx.ModifiedConfigJSON, configtx.ModifiedConfigPB},
	} {
		r.produce(pair[1])
		data, err := r.read(pair[0])
		if err != nil {
			return err
		}
		pb, err := r.tools().EncodeJSONToPB(ctx, translator.MsgConfig, data)
		if err != nil {
			return err
		}
		if err := r.write(pair[1], pb); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) diff(ctx context.Context) error {
	r.produce(configtx.UpdateDeltaPB)
	original, err := r.read(configtx.ConfigSnapshotPB)
	if err != nil {
		return err
	}
	modified, err := r.read(configtx.ModifiedConfigPB)
	if err != nil {
		return err
	}
	delta, err := r.tools().ComputeDelta(ctx, r.channel.ID, original, modified)
	if err != nil {
		return err
	}
	return r.write(configtx.UpdateDeltaPB, delta)
}

func (r *run) decodeDelta(ctx context.Context) error {
	r.produce(configtx.UpdateDeltaJSON)
	delta, err := r.read(configtx.UpdateDeltaPB)
	if err != nil {
		return err
	}
	data, err := r.tools().DecodePBToJSON(ctx, translator.MsgConfigUpdate, delta)
	if err != nil {
		return err
	}
	doc, err := blockutil.DecodeJSON(data)
	if err != nil {
		return err
	}
	return r.writeJSON(configtx.UpdateDeltaJSON, doc)
}

func (r *run) envelope(ctx context.Context) error {
	r.produce(configtx.UpdateEnvelopeJSON)
	update, err := r.readJSON(configtx.UpdateDeltaJSON)
	if err != nil {
		return err
	}
	if err := r.writeJSON(configtx.UpdateEnvelopeJSON, blockutil.WrapEnvelope(r.channel.ID, update)); err != nil {
		return err
	}

	r.produce(configtx.UpdateEnvelopePB)
	data, err := r.read(configtx.UpdateEnvelopeJSON)
	if err != nil {
		return err
	}
	pb, err := r.tools().EncodeJSONToPB(ctx, translator.MsgEnvelope, data)
	if err != nil {
		return err
	}
	return r.write(configtx.UpdateEnvelopePB, pb)
}

// sign has every signer append its signature to the signed envelope, in
// order. Signatures recorded for the same envelope by an earlier run are
// kept when the signed envelope is still on disk.
func (r *run) sign(ctx context.Context) error {
	r.produce(configtx.SignedEnvelopePB)
	ledger := r.p.opts.Ledger
	id, subject := r.channel.ID, r.subject

	envelope, err := r.read(configtx.UpdateEnvelopePB)
	if err != nil {
		return err
	}
	digest := blockutil.Digest(envelope)
	rec, err := ledger.BeginSigning(id, subject, digest)
	if err != nil {
		return err
	}

	resume := len(rec.Signers) > 0 && r.store().Exists(id, subject, configtx.SignedEnvelopePB)
	if resume {
		logger.Infof("[Pipeline] resume signing of %s after %v", subject, rec.Signers)
	} else {
		if len(rec.Signers) > 0 {
			if rec, err = ledger.RestartSigning(id, subject, digest); err != nil {
				return err
			}
		}
		if err := r.write(configtx.SignedEnvelopePB, envelope); err != nil {
			return err
		}
	}

	signed := r.path(configtx.SignedEnvelopePB)
	name := path.Base(signed)
	for _, signer := range r.signers {
		if resume && rec.HasSigner(signer.RoleDomain) {
			r.result.Resumed = append(r.result.Resumed, signer.RoleDomain)
			r.result.Signers = append(r.result.Signers, signer.RoleDomain)
			continue
		}
		host, err := r.host(signer)
		if err != nil {
			return err
		}
		if err := r.stage(ctx, host, signer, signed); err != nil {
			return err
		}
		if _, err := r.exec().Run(ctx, host, channel.SignConfigTx(signer, name), remote.Privileged()); err != nil {
			return err
		}
		if err := r.exec().Download(ctx, host, channel.HostPath(signer, name), signed); err != nil {
			return err
		}
		if err := ledger.RecordSignature(id, subject, digest, signer.RoleDomain); err != nil {
			return err
		}
		r.result.Signers = append(r.result.Signers, signer.RoleDomain)
		logger.Infof("[Pipeline] %s signed by %s", name, signer.RoleDomain)
	}
	r.result.SignedEnvelope = signed
	return nil
}

// stage uploads a local file into the cli volume of e.
func (r *run) stage(ctx context.Context, host *types.Host, e *topology.Element, local string) error {
	uploaded, err := r.exec().Upload(ctx, host, local, r.p.opts.TmpDir)
	if err != nil {
		return err
	}
	_, err = r.exec().Run(ctx, host, channel.MoveIn(e, uploaded), remote.Privileged())
	return err
}

// submit sends the signed envelope from the last signer. Membership changes
// only after the ordering service accepted the update.
func (r *run) submit(ctx context.Context) error {
	last := r.signers[len(r.signers)-1]
	host, err := r.host(last)
	if err != nil {
		return err
	}

	signed := r.path(configtx.SignedEnvelopePB)
	if _, err := os.Stat(signed); err != nil {
		return errors.Wrap(err, "signed envelope is missing")
	}
	name := path.Base(signed)
	if err := r.stage(ctx, host, last, signed); err != nil {
		return err
	}
	cmd := channel.Update(last, name, r.channel.ID, r.orderer, r.caFile)
	if _, err := r.exec().Run(ctx, host, cmd, remote.Privileged()); err != nil {
		return err
	}

	change := storage.MembershipChange{ChannelID: r.channel.ID}
	switch a := r.add.(type) {
	case AddOrganization:
		change.Org = a.Name
	case AddConsortium:
		change.Consortium = a.Name
	}
	if err := r.p.opts.Ledger.CommitSubmission(r.channel.ID, r.subject, change); err != nil {
		return errors.Wrap(err, "update was submitted but could not be recorded")
	}

	reg := r.p.opts.Registry
	if change.Org != "" {
		if _, err := reg.AddChannelMember(r.channel.ID, change.Org); err != nil {
			return err
		}
	} else if !reg.HasConsortium(change.Consortium) {
		if err := reg.AddConsortium(change.Consortium); err != nil {
			return err
		}
	}

	r.cleanup(ctx, host, last, name)
	logger.Infof("[Pipeline] submitted %s to %s from %s", name, r.orderer, last.RoleDomain)
	return nil
}

// cleanup removes name from the cli data volume. Failures are only logged.
func (r *run) cleanup(ctx context.Context, host *types.Host, cli *topology.Element, name string) {
	res, err := r.exec().Run(ctx, host, channel.Remove(cli, name), remote.Privileged(), remote.ContinueOnError())
	if err == nil && res != nil && res.Failed() {
		err = res.Err
	}
	if err != nil {
		logger.Warnf("[Pipeline] failed to remove %s from %s: %v", name, cli.RoleDomain, err)
	}
}

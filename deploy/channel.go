package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/msp"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/peer/channel"
	"github.com/ddr4869/fabctl/pipeline"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/topology"
)

// ExtendChannel adds org to channelID through the update pipeline, then
// joins every peer of org to the channel.
func (c *Context) ExtendChannel(ctx context.Context, channelID, org string) (*pipeline.Result, error) {
	add, err := pipeline.NewAddOrganization(org)
	if err != nil {
		return nil, &errdefs.TopologyError{Msg: fmt.Sprintf("Org: %s is invalid", org), Err: err}
	}
	res, err := c.opts.Pipeline.Run(ctx, channelID, add)
	if err != nil {
		return nil, err
	}
	if err := c.joinTargets(ctx, res.ChannelID, topology.DispatchRequest{
		Roles: []types.Role{types.RolePeerCLI},
		Orgs:  []string{add.Name},
	}); err != nil {
		return res, err
	}
	logger.Infof("✅ %s extended channel<%s>", add.Name, res.ChannelID)
	return res, nil
}

// AddConsortium adds consortium name, generated with the deployment's
// genesis profile, to the system channel.
func (c *Context) AddConsortium(ctx context.Context, name string) (*pipeline.Result, error) {
	if c.opts.GenesisProfile == "" {
		return nil, errdefs.Topology("genesis profile is not configured")
	}
	return c.opts.Pipeline.Run(ctx, configtx.SystemChannelID, pipeline.AddConsortium{
		Name:           name,
		GenesisProfile: c.opts.GenesisProfile,
	})
}

// JoinChannel joins the peers selected by hosts and orgs to channelID. With
// no orgs every member organization joins.
func (c *Context) JoinChannel(ctx context.Context, channelID string, hosts, orgs []string) error {
	ch, err := c.opts.Registry.Channel(channelID)
	if err != nil {
		return err
	}
	if len(orgs) == 0 {
		orgs = ch.Members
	}
	var foreign []string
	for _, o := range orgs {
		if !ch.HasMember(o) {
			foreign = append(foreign, o)
		}
	}
	if len(foreign) > 0 {
		return errdefs.Topology("The organizations<%s> does not belong to the channel<%s>",
			strings.Join(foreign, ","), ch.ID)
	}
	return c.joinTargets(ctx, ch.ID, topology.DispatchRequest{
		Roles: []types.Role{types.RolePeerCLI}, Hosts: hosts, Orgs: orgs,
	})
}

func (c *Context) joinTargets(ctx context.Context, channelID string, req topology.DispatchRequest) error {
	targets, err := c.opts.Registry.ResolveDispatchTargets(req)
	if err != nil {
		return err
	}
	orderer, err := c.ordererService(ctx)
	if err != nil {
		return err
	}
	caFile := c.opts.Registry.PeerCLITLSCA()
	for _, t := range targets {
		logger.Infof("Channel<%s> will be joined by %s %s", channelID, t.Element.RoleDomain, t.Host)
		cmd := channel.FetchGenesisAndJoin(t.Element, channelID, orderer, caFile)
		if _, err := c.opts.Executor.Run(ctx, t.Host, cmd, remote.Privileged()); err != nil {
			return err
		}
	}
	return nil
}

func channelCreatedKey(channelID string) string {
	return "channel_" + channelID + "_created"
}

// InstallChannel creates channelID from its creation transaction on the
// first member's peer-cli and joins every member peer. A channel recorded
// as created is only joined.
func (c *Context) InstallChannel(ctx context.Context, channelID string) error {
	reg := c.opts.Registry
	ch, err := reg.Channel(channelID)
	if err != nil {
		return err
	}
	if ch.IsSystem() || len(ch.Members) == 0 {
		return errdefs.Topology("channel %s has no member organization", ch.ID)
	}
	creator, err := reg.FirstPeerCLI(ch.Members[0])
	if err != nil {
		return err
	}
	orderer, err := c.ordererService(ctx)
	if err != nil {
		return err
	}
	caFile := reg.PeerCLITLSCA()

	created, err := c.opts.Ledger.Status(channelCreatedKey(ch.ID))
	if err != nil {
		return err
	}
	if !created {
		if err := c.createChannel(ctx, ch, creator, orderer, caFile); err != nil {
			return err
		}
	}

	targets, err := reg.ResolveDispatchTargets(topology.DispatchRequest{
		Roles: []types.Role{types.RolePeerCLI}, Orgs: ch.Members,
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		cmd := channel.FetchGenesisAndJoin(t.Element, ch.ID, orderer, caFile)
		if t.Element == creator && !created {
			cmd = channel.Join(t.Element, ch.ID+".block")
		}
		if _, err := c.opts.Executor.Run(ctx, t.Host, cmd, remote.Privileged()); err != nil {
			return err
		}
	}
	logger.Infof("✅ channel<%s> installed", ch.ID)
	return nil
}

func (c *Context) createChannel(ctx context.Context, ch *topology.Channel, creator *topology.Element, orderer, caFile string) error {
	txPath := c.opts.Layout.GenesisPath(ch.GenesisFile)
	if _, err := os.Stat(txPath); os.IsNotExist(err) {
		if err := c.opts.Tools.GenerateChannelTx(ctx, ch.Profile, ch.ID, txPath); err != nil {
			return err
		}
	}

	host, err := c.opts.Registry.ResolveHost(creator.Address, true)
	if err != nil {
		return err
	}
	exec := c.opts.Executor
	uploaded, err := exec.Upload(ctx, host, txPath, c.opts.TmpDir)
	if err != nil {
		return err
	}
	if _, err := exec.Run(ctx, host, channel.MoveIn(creator, uploaded), remote.Privileged()); err != nil {
		return err
	}
	if _, err := exec.Run(ctx, host, channel.Create(creator, ch.ID, ch.GenesisFile, orderer, caFile), remote.Privileged()); err != nil {
		return err
	}
	return c.opts.Ledger.SetStatus(channelCreatedKey(ch.ID), true)
}

// orgChannels returns the application channels org belongs to.
func (c *Context) orgChannels(org string) []string {
	key, err := msp.FormatOrgDomain(org)
	if err != nil {
		return nil
	}
	var ids []string
	for _, ch := range c.opts.Registry.Channels() {
		if !ch.IsSystem() && ch.HasMember(key) {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

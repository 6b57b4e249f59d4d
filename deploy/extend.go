package deploy

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/config"
)

// ExtendFromFile applies ext to the network loaded from its merge with base:
// docker on new hosts, new peers and organizations, new channels, then the
// channel extensions. Channels are extended concurrently, organizations of
// one channel in order.
func (c *Context) ExtendFromFile(ctx context.Context, base *config.Deployment, ext *config.Extend) error {
	logger.Infof("start to extend current fabric-network!")

	if hosts := ext.NewHosts(base); len(hosts) > 0 {
		if err := c.Install(ctx, ModuleDocker, hosts, nil, ModeInstall); err != nil {
			return err
		}
	}

	newPeers := ext.NewPeers()
	orgs := make([]string, 0, len(newPeers))
	for org := range newPeers {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	for _, org := range orgs {
		hosts := newPeers[org]
		for _, role := range []types.Role{types.RolePeer, types.RolePeerCLI} {
			if err := c.Install(ctx, string(role), hosts, []string{org}, ModeInstall); err != nil {
				return err
			}
		}
		for _, id := range c.orgChannels(org) {
			if err := c.JoinChannel(ctx, id, hosts, []string{org}); err != nil {
				return err
			}
			if c.hasChaincodes(id) {
				if err := c.InstallChaincode(ctx, ChaincodeRequest{ChannelID: id, Hosts: hosts, Orgs: []string{org}}); err != nil {
					return err
				}
			}
		}
	}

	for _, org := range ext.NewOrganizations() {
		for _, role := range []types.Role{types.RolePeer, types.RolePeerCLI} {
			if err := c.Install(ctx, string(role), nil, []string{org}, ModeInstall); err != nil {
				return err
			}
		}
	}

	for _, ch := range ext.NewChannels() {
		if _, err := c.AddConsortium(ctx, ch.Consortium); err != nil {
			if !errdefs.IsConflict(err) {
				return err
			}
			logger.Warnf("consortium %s already exists in the system channel", ch.Consortium)
		}
		if err := c.InstallChannel(ctx, ch.ID); err != nil {
			return err
		}
		if c.hasChaincodes(ch.ID) {
			if err := c.DeployChaincodes(ctx, ch.ID, false); err != nil {
				return err
			}
		}
		splitLine()
	}

	extended := ext.ExtendedChannels()
	if err := c.extendChannels(ctx, extended); err != nil {
		return err
	}
	ids := make([]string, 0, len(extended))
	for id := range extended {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !c.hasChaincodes(id) {
			continue
		}
		if err := c.DeployChaincodes(ctx, id, true); err != nil {
			return err
		}
	}

	if ext.NeedsExplorer() {
		if err := c.reloadExplorer(); err != nil {
			return err
		}
		if err := c.Install(ctx, string(types.RoleExplorer), nil, nil, ModeRestart); err != nil {
			return err
		}
	}
	logger.Infof("✅ fabric-network extended")
	return nil
}

func (c *Context) extendChannels(ctx context.Context, channels map[string][]string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for id, orgs := range channels {
		id, orgs := id, orgs
		g.Go(func() error {
			for _, org := range orgs {
				if _, err := c.ExtendChannel(ctx, id, org); err != nil {
					return err
				}
				splitLine()
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Context) hasChaincodes(channelID string) bool {
	ch, err := c.opts.Registry.Channel(channelID)
	return err == nil && len(ch.Chaincodes) > 0
}

// reloadExplorer re-reads the explorer's generated config.json so its
// package picks up the crypto material of the extended channels.
func (c *Context) reloadExplorer() error {
	explorers, err := c.opts.Registry.ElementsFor(types.RoleExplorer)
	if err != nil {
		return err
	}
	for _, e := range explorers {
		if err := e.Reload(); err != nil {
			return err
		}
	}
	return nil
}

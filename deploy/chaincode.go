package deploy

import (
	"context"
	"strings"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/peer/chaincode"
	"github.com/ddr4869/fabctl/remote"
	"github.com/ddr4869/fabctl/topology"
)

// ChaincodeRequest selects chaincodes of one channel and the peers that
// receive them. Empty Names selects every chaincode of the channel and
// empty Orgs every member organization.
type ChaincodeRequest struct {
	ChannelID string
	Names     []string
	Hosts     []string
	Orgs      []string
	// Args are passed to the chaincode Init on instantiate and upgrade.
	Args []string
}

func chaincodeKey(channelID string, cc topology.Chaincode) string {
	return "chaincode_" + channelID + "_" + cc.Name + "_" + cc.Version
}

func (c *Context) chaincodeScope(req ChaincodeRequest) (*topology.Channel, []topology.Chaincode, []topology.Target, error) {
	ch, err := c.opts.Registry.Channel(req.ChannelID)
	if err != nil {
		return nil, nil, nil, err
	}
	ccs := ch.Chaincodes
	if len(req.Names) > 0 {
		ccs = nil
		for _, name := range req.Names {
			cc, ok := ch.Chaincode(name)
			if !ok {
				return nil, nil, nil, errdefs.TopologyNotFound("chaincode %s is not defined on channel<%s>", name, ch.ID)
			}
			ccs = append(ccs, cc)
		}
	}
	if len(ccs) == 0 {
		return nil, nil, nil, errdefs.Topology("channel<%s> has no chaincode", ch.ID)
	}

	orgs := req.Orgs
	if len(orgs) == 0 {
		orgs = ch.Members
	}
	for _, o := range orgs {
		if !ch.HasMember(o) {
			return nil, nil, nil, errdefs.Topology("The organizations<%s> does not belong to the channel<%s>", o, ch.ID)
		}
	}
	targets, err := c.opts.Registry.ResolveDispatchTargets(topology.DispatchRequest{
		Roles: []types.Role{types.RolePeerCLI}, Hosts: req.Hosts, Orgs: orgs,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, nil, errdefs.TopologyNotFound("no peer-cli found for channel<%s>", ch.ID)
	}
	return ch, ccs, targets, nil
}

// InstallChaincode installs the selected chaincodes on every selected peer.
// A version already installed on a peer is reported and skipped.
func (c *Context) InstallChaincode(ctx context.Context, req ChaincodeRequest) error {
	ch, ccs, targets, err := c.chaincodeScope(req)
	if err != nil {
		return err
	}
	logger.Infof("Chaincode install start")
	for _, t := range targets {
		for _, cc := range ccs {
			if err := c.runChaincode(ctx, t.Host, chaincode.Install(t.Element, cc)); err != nil {
				return err
			}
			logger.Infof("%s installed %s.%s for channel<%s>", t.Element.RoleDomain, cc.Name, cc.Version, ch.ID)
		}
	}
	logger.Infof("✅ Chaincode install end")
	return nil
}

// InstantiateChaincode instantiates the selected chaincodes from the first
// selected peer.
func (c *Context) InstantiateChaincode(ctx context.Context, req ChaincodeRequest) error {
	return c.startChaincode(ctx, req, false)
}

// UpgradeChaincode upgrades the channel to the configured version of the
// selected chaincodes from the first selected peer.
func (c *Context) UpgradeChaincode(ctx context.Context, req ChaincodeRequest) error {
	return c.startChaincode(ctx, req, true)
}

func (c *Context) startChaincode(ctx context.Context, req ChaincodeRequest, upgrade bool) error {
	ch, ccs, targets, err := c.chaincodeScope(req)
	if err != nil {
		return err
	}
	orderer, err := c.ordererService(ctx)
	if err != nil {
		return err
	}
	caFile := c.opts.Registry.PeerCLITLSCA()
	t := targets[0]

	action, build := "instantiate", chaincode.Instantiate
	if upgrade {
		action, build = "upgrade", chaincode.Upgrade
	}
	for _, cc := range ccs {
		key := chaincodeKey(ch.ID, cc)
		done, err := c.opts.Ledger.Status(key)
		if err != nil {
			return err
		}
		if done {
			logger.Infof("%s.%s is already running on channel<%s>", cc.Name, cc.Version, ch.ID)
			continue
		}
		if err := c.runChaincode(ctx, t.Host, build(t.Element, ch.ID, cc, req.Args, orderer, caFile)); err != nil {
			return err
		}
		if err := c.opts.Ledger.SetStatus(key, true); err != nil {
			return err
		}
		logger.Infof("✅ %s %s %s.%s on channel<%s>", t.Element.RoleDomain, action, cc.Name, cc.Version, ch.ID)
	}
	return nil
}

// DeployChaincodes installs every chaincode of channelID on all member
// peers, then instantiates or, with upgrade, upgrades them.
func (c *Context) DeployChaincodes(ctx context.Context, channelID string, upgrade bool) error {
	req := ChaincodeRequest{ChannelID: channelID}
	if err := c.InstallChaincode(ctx, req); err != nil {
		return err
	}
	if upgrade {
		return c.UpgradeChaincode(ctx, req)
	}
	return c.InstantiateChaincode(ctx, req)
}

// runChaincode runs cmd privileged. An "already exists" rejection from the
// peer is reported as a warning.
func (c *Context) runChaincode(ctx context.Context, host *types.Host, cmd string) error {
	_, err := c.opts.Executor.Run(ctx, host, cmd, remote.Privileged())
	if err == nil {
		return nil
	}
	if rerr, ok := errdefs.As[*errdefs.RemoteExecutionError](err); ok &&
		(strings.Contains(rerr.Stderr, "already exists") || strings.Contains(rerr.Stdout, "already exists")) {
		logger.Warnf("[%s] %s", host.Address, strings.TrimSpace(rerr.Stderr))
		return nil
	}
	return err
}

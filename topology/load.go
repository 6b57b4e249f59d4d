package topology

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/msp"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/config"
)

// Load builds a registry from a deployment document. Zookeepers are
// numbered from 1; kafkas, orderers, orderer-clis and each org's peers from 0.
// layout.Domain is taken from the ordering organization.
func Load(d *config.Deployment, layout Layout) (*Registry, error) {
	if d == nil {
		return nil, errors.New("deployment cannot be nil")
	}
	domain := d.Fabric.OrdererOrg.Domain
	if domain == "" {
		return nil, errors.New("orderer org domain must be provided")
	}
	layout.Domain = domain
	r := NewRegistry(layout)

	if err := AddHosts(r, d, d.HostIDs()); err != nil {
		return nil, err
	}

	oo := d.Fabric.OrdererOrg
	for i, id := range oo.Zookeepers {
		if _, err := r.Assign(types.RoleZookeeper, "", domain, strconv.Itoa(i+1), id); err != nil {
			return nil, err
		}
	}
	for i, id := range oo.Kafkas {
		if _, err := r.Assign(types.RoleKafka, "", domain, strconv.Itoa(i), id); err != nil {
			return nil, err
		}
	}
	for i, id := range oo.Orderers {
		if _, err := r.Assign(types.RoleOrderer, OrdererOrg, domain, strconv.Itoa(i), id); err != nil {
			return nil, err
		}
		if _, err := r.Assign(types.RoleOrdererCLI, OrdererOrg, domain, strconv.Itoa(i), id); err != nil {
			return nil, err
		}
	}

	for _, name := range d.PeerOrgNames() {
		if err := AssignPeers(r, name, d.Fabric.PeerOrgs[name], d.Fabric.PeerOrgs[name].Peers, 0); err != nil {
			return nil, err
		}
	}

	if err := r.AddChannel(NewSystemChannel(d.GenesisProfile())); err != nil {
		return nil, err
	}
	for _, id := range d.ChannelIDs() {
		spec := d.Fabric.Channels[id]
		ch := NewChannel(id, spec.Profile, spec.Consortium, spec.Orgs...)
		for _, name := range sortedKeys(spec.Chaincodes) {
			cc := spec.Chaincodes[name]
			ch.Chaincodes = append(ch.Chaincodes, Chaincode{Name: name, Version: cc.Version, Path: cc.Path})
		}
		if err := r.AddChannel(ch); err != nil {
			return nil, err
		}
		if spec.Consortium != "" && !r.HasConsortium(spec.Consortium) {
			if err := r.AddConsortium(spec.Consortium); err != nil {
				return nil, err
			}
		}
	}

	if d.Fabric.Explorer == nil {
		logger.Warnf("fabric-explorer is not provided")
	} else if _, err := r.Assign(types.RoleExplorer, "", domain, "", d.Fabric.Explorer.Peer); err != nil {
		return nil, err
	}

	return r, nil
}

// AddHosts registers pool entries, filling login details from the shared
// credential.
func AddHosts(r *Registry, d *config.Deployment, ids []string) error {
	for _, id := range ids {
		entry, ok := d.Hosts.Pool[id]
		if !ok {
			return errors.Errorf("host %s not found in pool", id)
		}
		h := &types.Host{
			Address:  entry.IP,
			ID:       id,
			User:     entry.User,
			Password: entry.Password,
			KeyFile:  entry.Key,
			Port:     entry.Port,
		}
		if h.User == "" {
			h.User = d.Hosts.Credential.User
		}
		if h.Password == "" && h.KeyFile == "" {
			h.Password = d.Hosts.Credential.Password
		}
		if err := r.AddHost(h); err != nil {
			return err
		}
	}
	return nil
}

// AssignPeers places one peer and one peer-cli per host of org, numbering
// from start.
func AssignPeers(r *Registry, name string, org config.PeerOrg, hosts []string, start int) error {
	orgName, err := msp.FormatOrgDomain(name)
	if err != nil {
		return err
	}
	scope := org.Domain
	if scope == "" {
		scope = orgName + "." + r.Domain()
	}
	for i, id := range hosts {
		idx := strconv.Itoa(start + i)
		if _, err := r.Assign(types.RolePeer, orgName, scope, idx, id); err != nil {
			return err
		}
		if _, err := r.Assign(types.RolePeerCLI, orgName, scope, idx, id); err != nil {
			return err
		}
	}
	return nil
}

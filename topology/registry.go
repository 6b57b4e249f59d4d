// Package topology tracks the hosts of a network, the role instances placed
// on them and the channels they form, and resolves which host runs what.
package topology

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/msp"
	"github.com/ddr4869/fabctl/common/types"
)

// OrdererOrg is the organization key orderers are indexed under.
const OrdererOrg = "OrdererOrg"

// OrdererPort is the listen port of every ordering node.
const OrdererPort = 7050

// Registry is the in-memory network topology. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	layout   Layout
	pool     *HostPool
	elements map[types.Role][]*Element
	byDomain map[string]*Element
	orgs     map[string]map[types.Role][]*Element
	orgOrder []string

	channels     map[string]*Channel
	channelOrder []string
	consortiums  map[string]string
}

// Target is one element together with the host that runs it.
type Target struct {
	Element *Element
	Host    *types.Host
}

// DispatchRequest selects elements by role, optionally narrowed to hosts or orgs.
type DispatchRequest struct {
	Roles []types.Role
	Hosts []string
	Orgs  []string
}

// NewRegistry returns an empty registry whose elements derive their paths
// from layout.
func NewRegistry(layout Layout) *Registry {
	return &Registry{
		layout:      layout,
		pool:        NewHostPool(),
		elements:    make(map[types.Role][]*Element),
		byDomain:    make(map[string]*Element),
		orgs:        make(map[string]map[types.Role][]*Element),
		channels:    make(map[string]*Channel),
		consortiums: make(map[string]string),
	}
}

// Layout returns the layout shared by every element of the registry.
func (r *Registry) Layout() Layout { return r.layout }

// Domain is the ordering organization domain, e.g. example.com.
func (r *Registry) Domain() string { return r.layout.Domain }

// AddHost validates and registers a host.
func (r *Registry) AddHost(h *types.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool.Add(h)
	return nil
}

// Hosts returns every registered host in registration order.
func (r *Registry) Hosts() []*types.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool.Hosts()
}

// ResolveHost finds a host by address, pool id or role-domain. When strict is
// false an unknown key yields (nil, nil).
func (r *Registry) ResolveHost(key string, strict bool) (*types.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveHost(key, strict)
}

func (r *Registry) resolveHost(key string, strict bool) (*types.Host, error) {
	if h, ok := r.pool.Get(key); ok {
		return h, nil
	}
	if strict {
		return nil, errdefs.TopologyNotFound("invalid host index: %s", key)
	}
	return nil, nil
}

// Assign places a role instance on the host resolved from hostKey. The
// role-domain is {role}{index}.{scope} and must be unique.
func (r *Registry) Assign(role types.Role, org, scope, index, hostKey string) (*Element, error) {
	if role == "" || scope == "" || hostKey == "" {
		return nil, errors.New("host, role and domain must be provided")
	}
	if _, err := types.ParseRole(string(role)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	host, err := r.resolveHost(hostKey, true)
	if err != nil {
		return nil, err
	}

	roleDomain := fmt.Sprintf("%s%s.%s", role, index, scope)
	if _, exists := r.byDomain[roleDomain]; exists {
		return nil, errdefs.Conflict("role-domain", roleDomain, "")
	}

	orgKey := org
	switch {
	case role.IsPeerFamily():
		if org == "" {
			return nil, errdefs.Topology("%s %s requires an organization", role, roleDomain)
		}
		if orgKey, err = msp.FormatOrgDomain(org); err != nil {
			return nil, &errdefs.TopologyError{Msg: "invalid organization for " + roleDomain, Err: err}
		}
	case role == types.RoleOrderer:
		if orgKey == "" {
			orgKey = OrdererOrg
		}
	}

	e := newElement(r.layout, role, index, orgKey, roleDomain, host.Address)
	r.pool.AddIndex(roleDomain, host.Address)
	r.elements[role] = append(r.elements[role], e)
	r.byDomain[roleDomain] = e

	if role.IsPeerFamily() || role == types.RoleOrderer {
		roles, ok := r.orgs[orgKey]
		if !ok {
			roles = make(map[types.Role][]*Element)
			r.orgs[orgKey] = roles
			r.orgOrder = append(r.orgOrder, orgKey)
		}
		roles[role] = append(roles[role], e)
	}

	logger.Debugf("[Topology] assigned %s to %s", roleDomain, host.Address)
	return e, nil
}

// Element looks up an element by role-domain.
func (r *Registry) Element(roleDomain string) (*Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byDomain[roleDomain]
	return e, ok
}

// Organizations returns the peer organizations in registration order.
func (r *Registry) Organizations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, o := range r.orgOrder {
		if o != OrdererOrg {
			out = append(out, o)
		}
	}
	return out
}

// HasOrganization reports whether org has peers in the topology.
func (r *Registry) HasOrganization(org string) bool {
	key, err := msp.FormatOrgDomain(org)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.orgs[key]
	return ok
}

// ElementsFor returns the elements of role in assignment order. For peer and
// peer-cli the result is narrowed to orgs; peer-cli of the orderer
// organization returns the orderers.
func (r *Registry) ElementsFor(role types.Role, orgs ...string) ([]*Element, error) {
	if _, err := types.ParseRole(string(role)); err != nil {
		return nil, &errdefs.TopologyError{Msg: "unsupported module", Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if role == types.RolePeerCLI && len(orgs) == 1 && msp.IsOrdererOrg(orgs[0]) {
		return append([]*Element(nil), r.elements[types.RoleOrderer]...), nil
	}

	if role.IsPeerFamily() && len(orgs) > 0 {
		var out []*Element
		for _, o := range orgs {
			key, err := msp.FormatOrgDomain(o)
			if err != nil {
				return nil, &errdefs.TopologyError{Msg: fmt.Sprintf("Org: %s is invalid", o), Err: err}
			}
			roles, ok := r.orgs[key]
			if !ok {
				return nil, errdefs.TopologyNotFound("Org: %s is invalid", key)
			}
			out = append(out, roles[role]...)
		}
		return out, nil
	}

	return append([]*Element(nil), r.elements[role]...), nil
}

// ResolveDispatchTargets computes which elements, on which hosts, an
// operation addresses. Explicit hosts need a single role, and a single org
// when that role is peer or peer-cli.
func (r *Registry) ResolveDispatchTargets(req DispatchRequest) ([]Target, error) {
	if len(req.Roles) == 0 {
		return nil, errdefs.Topology("please specify the module [%s]", roleNames())
	}
	if len(req.Hosts) > 0 && len(req.Roles) > 1 {
		return nil, errdefs.Topology("host cannot be specified when multiple modules are specified")
	}

	if len(req.Hosts) == 0 {
		var targets []Target
		for _, role := range req.Roles {
			elements, err := r.ElementsFor(role, req.Orgs...)
			if err != nil {
				return nil, err
			}
			for _, e := range elements {
				h, err := r.ResolveHost(e.Address, true)
				if err != nil {
					return nil, err
				}
				targets = append(targets, Target{Element: e, Host: h})
			}
		}
		return targets, nil
	}

	role := req.Roles[0]
	var (
		elements []*Element
		scope    string
		err      error
	)
	if role.IsPeerFamily() {
		switch len(req.Orgs) {
		case 0:
			return nil, errdefs.Topology("module<%s> with hosts: org required", role)
		case 1:
		default:
			return nil, errdefs.Topology("module<%s> with hosts: single org only", role)
		}
		elements, err = r.ElementsFor(role, req.Orgs[0])
		scope = fmt.Sprintf(" organization [%s]", req.Orgs[0])
	} else {
		elements, err = r.ElementsFor(role)
	}
	if err != nil {
		return nil, err
	}

	owned := make(map[string]bool, len(elements))
	for _, e := range elements {
		owned[e.Address] = true
	}
	selected := make(map[string]*types.Host)
	for _, key := range req.Hosts {
		h, err := r.ResolveHost(key, true)
		if err != nil {
			return nil, err
		}
		if !owned[h.Address] {
			return nil, errdefs.Topology("the host<%s> does not belong to the module <%s%s>", key, role, scope)
		}
		selected[h.Address] = h
	}

	var targets []Target
	for _, e := range elements {
		if h, ok := selected[e.Address]; ok {
			targets = append(targets, Target{Element: e, Host: h})
		}
	}
	return targets, nil
}

// FirstOrdererService returns {first orderer}:7050.
func (r *Registry) FirstOrdererService() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orderers := r.elements[types.RoleOrderer]
	if len(orderers) == 0 {
		return "", errdefs.TopologyNotFound("there are no optional orderer services")
	}
	return fmt.Sprintf("%s:%d", orderers[0].RoleDomain, OrdererPort), nil
}

// OrdererServices returns every ordering endpoint in assignment order.
func (r *Registry) OrdererServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, e := range r.elements[types.RoleOrderer] {
		out = append(out, fmt.Sprintf("%s:%d", e.RoleDomain, OrdererPort))
	}
	return out
}

// FirstOrdererCLI returns the first orderer-cli element.
func (r *Registry) FirstOrdererCLI() (*Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clis := r.elements[types.RoleOrdererCLI]
	if len(clis) == 0 {
		return nil, errdefs.TopologyNotFound("there are no optional orderer-cli services")
	}
	return clis[0], nil
}

// FirstPeerCLI returns the first peer-cli of org.
func (r *Registry) FirstPeerCLI(org string) (*Element, error) {
	clis, err := r.ElementsFor(types.RolePeerCLI, org)
	if err != nil {
		return nil, err
	}
	if len(clis) == 0 {
		return nil, errdefs.TopologyNotFound("organization %s has no peer-cli", org)
	}
	return clis[0], nil
}

// PeerCLITLSCA is the orderer TLS CA path inside a peer-cli container.
func (r *Registry) PeerCLITLSCA() string {
	d := r.layout.Domain
	return fmt.Sprintf("/etc/fabric/crypto/ordererOrganizations/%s/users/Admin@%s/msp/tlscacerts/tlsca.%s-cert.pem", d, d, d)
}

// OrdererCLITLSCA is the orderer TLS CA path inside an orderer-cli container.
func (r *Registry) OrdererCLITLSCA() string {
	d := r.layout.Domain
	return fmt.Sprintf("/etc/hyperledger/users/Admin@%s/msp/tlscacerts/tlsca.%s-cert.pem", d, d)
}

// HostsFile renders domain.cfg: one "address role-domain" line per
// zookeeper, kafka, orderer and peer.
func (r *Registry) HostsFile() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var elements []*Element
	for _, role := range []types.Role{types.RoleZookeeper, types.RoleKafka, types.RoleOrderer, types.RolePeer} {
		elements = append(elements, r.elements[role]...)
	}
	if len(elements) == 0 {
		return ""
	}
	width := 0
	for _, e := range elements {
		if len(e.Address) > width {
			width = len(e.Address)
		}
	}
	width += 2

	lines := make([]string, 0, len(elements))
	for _, e := range elements {
		lines = append(lines, fmt.Sprintf("%-*s %s", width, e.Address, e.RoleDomain))
	}
	return strings.Join(lines, "\n")
}

func roleNames() string {
	names := make([]string, len(types.Roles))
	for i, r := range types.Roles {
		names[i] = string(r)
	}
	return strings.Join(names, "/")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

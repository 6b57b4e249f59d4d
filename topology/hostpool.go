package topology

import (
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
)

// HostPool keeps hosts by address plus secondary keys (pool ids, role-domains)
// pointing at an address. Callers synchronize access.
type HostPool struct {
	hosts map[string]*types.Host
	order []string
	index map[string]string
}

func NewHostPool() *HostPool {
	return &HostPool{
		hosts: make(map[string]*types.Host),
		index: make(map[string]string),
	}
}

// Add registers h by address and indexes its pool id.
func (p *HostPool) Add(h *types.Host) {
	if _, ok := p.hosts[h.Address]; !ok {
		p.order = append(p.order, h.Address)
	}
	p.hosts[h.Address] = h
	if h.ID != "" {
		p.AddIndex(h.ID, h.Address)
	}
}

// AddIndex points key at address. Re-pointing a key is allowed but logged.
func (p *HostPool) AddIndex(key, address string) {
	if key == "" || address == "" {
		return
	}
	if prev, ok := p.index[key]; ok && prev != address {
		logger.Warnf("%s and %s have same index: %s", address, prev, key)
	}
	p.index[key] = address
}

// Get resolves an address, pool id or role-domain.
func (p *HostPool) Get(key string) (*types.Host, bool) {
	if h, ok := p.hosts[key]; ok {
		return h, true
	}
	if addr, ok := p.index[key]; ok {
		h, ok := p.hosts[addr]
		return h, ok
	}
	return nil, false
}

// Hosts returns every host in registration order.
func (p *HostPool) Hosts() []*types.Host {
	out := make([]*types.Host, 0, len(p.order))
	for _, addr := range p.order {
		out = append(out, p.hosts[addr])
	}
	return out
}

func (p *HostPool) Len() int { return len(p.order) }

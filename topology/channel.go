package topology

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/configtx"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/msp"
)

// Channel is a snapshot of one channel. Members are organization names in
// join order.
type Channel struct {
	ID          string
	Profile     string
	Consortium  string
	GenesisFile string
	Members     []string
	// Chaincodes are sorted by name.
	Chaincodes []Chaincode
}

// Chaincode is a chaincode deployed on a channel.
type Chaincode struct {
	Name    string
	Version string
	Path    string
}

// Chaincode returns the chaincode called name.
func (c *Channel) Chaincode(name string) (Chaincode, bool) {
	for _, cc := range c.Chaincodes {
		if cc.Name == name {
			return cc, true
		}
	}
	return Chaincode{}, false
}

// IsSystem reports whether this is the ordering system channel.
func (c *Channel) IsSystem() bool {
	return c.ID == configtx.SystemChannelID
}

// HasMember reports whether org belongs to the channel.
func (c *Channel) HasMember(org string) bool {
	key := normalizeOrg(org)
	for _, m := range c.Members {
		if m == key {
			return true
		}
	}
	return false
}

func (c *Channel) clone() *Channel {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	cp.Chaincodes = append([]Chaincode(nil), c.Chaincodes...)
	return &cp
}

// MembershipSource supplies durable membership recorded by earlier runs.
type MembershipSource interface {
	Members(channelID string) ([]string, error)
	Consortiums() ([]string, error)
}

// NewChannel builds an application channel with a lowercase id and the
// genesis transaction {id}.tx.
func NewChannel(id, profile, consortium string, orgs ...string) *Channel {
	id = strings.ToLower(id)
	ch := &Channel{ID: id, Profile: profile, Consortium: consortium, GenesisFile: id + ".tx"}
	for _, o := range orgs {
		key := normalizeOrg(o)
		if !ch.HasMember(key) {
			ch.Members = append(ch.Members, key)
		}
	}
	return ch
}

// NewSystemChannel builds the ordering system channel.
func NewSystemChannel(profile string) *Channel {
	return &Channel{ID: configtx.SystemChannelID, Profile: profile, GenesisFile: configtx.SystemGenesisFile}
}

// AddChannel registers a channel. Ids are unique.
func (r *Registry) AddChannel(ch *Channel) error {
	if ch == nil || ch.ID == "" {
		return errors.New("channel id cannot be empty")
	}
	cp := ch.clone()
	cp.ID = strings.ToLower(cp.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[cp.ID]; exists {
		return errdefs.Conflict("channel", cp.ID, "")
	}
	r.channels[cp.ID] = cp
	r.channelOrder = append(r.channelOrder, cp.ID)
	return nil
}

// Channel returns a snapshot of channel id.
func (r *Registry) Channel(id string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[strings.ToLower(id)]
	if !ok {
		return nil, errdefs.TopologyNotFound("channel %s", id)
	}
	return ch.clone(), nil
}

// Channels returns snapshots of every channel in registration order.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channelOrder))
	for _, id := range r.channelOrder {
		out = append(out, r.channels[id].clone())
	}
	return out
}

// AddChannelMember appends org to the channel members. It reports false when
// org was already a member; membership never shrinks.
func (r *Registry) AddChannelMember(channelID, org string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[strings.ToLower(channelID)]
	if !ok {
		return false, errdefs.TopologyNotFound("channel %s", channelID)
	}
	key := normalizeOrg(org)
	if ch.HasMember(key) {
		return false, nil
	}
	ch.Members = append(ch.Members, key)
	logger.Infof("[Topology] %s joined channel %s", key, ch.ID)
	return true, nil
}

// RestoreMembership applies membership and consortiums recorded by src.
func (r *Registry) RestoreMembership(src MembershipSource) error {
	for _, ch := range r.Channels() {
		members, err := src.Members(ch.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to restore members of %s", ch.ID)
		}
		for _, m := range members {
			if _, err := r.AddChannelMember(ch.ID, m); err != nil {
				return err
			}
		}
	}
	consortiums, err := src.Consortiums()
	if err != nil {
		return errors.Wrap(err, "failed to restore consortiums")
	}
	for _, c := range consortiums {
		if !r.HasConsortium(c) {
			if err := r.AddConsortium(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddConsortium records a consortium of the system channel.
func (r *Registry) AddConsortium(name string) error {
	if name == "" {
		return errors.New("consortium name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(name)
	if _, exists := r.consortiums[key]; exists {
		return errdefs.Conflict("consortium", name, "system channel")
	}
	r.consortiums[key] = name
	return nil
}

func (r *Registry) HasConsortium(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.consortiums[strings.ToLower(name)]
	return ok
}

// Consortiums returns the known consortium names, sorted.
func (r *Registry) Consortiums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.consortiums))
	for _, k := range sortedKeys(r.consortiums) {
		out = append(out, r.consortiums[k])
	}
	return out
}

func normalizeOrg(org string) string {
	if key, err := msp.FormatOrgDomain(org); err == nil {
		return key
	}
	return org
}

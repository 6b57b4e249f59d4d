package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Extend describes additions to a running network.
type Extend struct {
	Version        string                   `yaml:"version"`
	Hosts          ExtendHosts              `yaml:"hosts,omitempty"`
	AddPeers       map[string][]string      `yaml:"AddPeers,omitempty"`
	AddOrgs        map[string]PeerOrg       `yaml:"AddOrgs,omitempty"`
	AddChannels    map[string]ChannelSpec   `yaml:"AddChannels,omitempty"`
	ExtendChannels map[string]ExtendChannel `yaml:"ExtendChannels,omitempty"`
	ExtendExplorer *ExtendExplorer          `yaml:"ExtendExplorer,omitempty"`
}

type ExtendHosts struct {
	Pool map[string]HostEntry `yaml:"pool,omitempty"`
}

type ExtendChannel struct {
	Orgs []string `yaml:"orgs"`
}

type ExtendExplorer struct {
	Channels []string `yaml:"channels"`
}

// NewChannel is a channel created by an extension together with its consortium.
type NewChannel struct {
	ID         string
	Consortium string
}

// LoadExtend reads an extend file.
func LoadExtend(path string) (*Extend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read extend file %s", path)
	}
	return ParseExtend(data)
}

// ParseExtend decodes an extend document.
func ParseExtend(data []byte) (*Extend, error) {
	var e Extend
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "failed to parse extend YAML")
	}
	if e.Version == "" {
		return nil, errors.New("missing version in extend config file")
	}
	return &e, nil
}

// Merge validates the extension against base and returns the merged
// deployment with its version bumped. base is not modified. With
// excludeExtendChannels the ExtendChannels orgs are checked but not added,
// so membership can be committed only after the channel update succeeds.
func (e *Extend) Merge(base *Deployment, excludeExtendChannels bool) (*Deployment, error) {
	if base.Version != e.Version {
		return nil, errors.Errorf("config file versions mismatch: deployment %s, extend %s", base.Version, e.Version)
	}
	version, err := strconv.Atoi(base.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "deployment version %q is not a number", base.Version)
	}

	out, err := base.Clone()
	if err != nil {
		return nil, err
	}
	out.Version = strconv.Itoa(version + 1)

	if out.Hosts.Pool == nil {
		out.Hosts.Pool = map[string]HostEntry{}
	}
	for id, h := range e.Hosts.Pool {
		out.Hosts.Pool[id] = h
	}

	peerOrgs := out.Fabric.PeerOrgs
	for _, orgName := range sortedKeys(e.AddPeers) {
		org, ok := peerOrgs[orgName]
		if !ok {
			return nil, errors.Errorf("Organization %s not found, failed to add peers", orgName)
		}
		if err := checkIntersection(org.Peers, e.AddPeers[orgName],
			"Organization<"+orgName+"> to extend peer<%s> have already existed"); err != nil {
			return nil, err
		}
		org.Peers = append(org.Peers, e.AddPeers[orgName]...)
		peerOrgs[orgName] = org
	}

	if err := checkIntersection(sortedKeys(peerOrgs), sortedKeys(e.AddOrgs),
		"To extend organization %s have already existed"); err != nil {
		return nil, err
	}
	for name, org := range e.AddOrgs {
		peerOrgs[name] = org
	}

	channels := out.Fabric.Channels
	for _, id := range sortedKeys(e.ExtendChannels) {
		ch, ok := channels[id]
		if !ok {
			return nil, errors.Errorf("To extend channel<%s> not found", id)
		}
		orgs := e.ExtendChannels[id].Orgs
		if err := checkContains(sortedKeys(peerOrgs), orgs,
			"To extend channel<"+id+"> organization %s could not been found"); err != nil {
			return nil, err
		}
		if err := checkIntersection(ch.Orgs, orgs,
			"To extend channel<"+id+">'s organization %s have already existed"); err != nil {
			return nil, err
		}
		if !excludeExtendChannels {
			ch.Orgs = append(ch.Orgs, orgs...)
		}
		for name, cc := range ch.Chaincodes {
			cc.Version = bumpChaincodeVersion(cc.Version)
			ch.Chaincodes[name] = cc
		}
		channels[id] = ch
	}

	if err := e.mergeChannels(channels, peerOrgs); err != nil {
		return nil, err
	}

	if e.ExtendExplorer != nil && len(e.ExtendExplorer.Channels) > 0 {
		if out.Fabric.Explorer == nil {
			return nil, errors.New("No Hyperledger Explorer, no support to extend explorer")
		}
		add := e.ExtendExplorer.Channels
		if err := checkContains(sortedKeys(channels), add, "To extend explorer channels %s could not been found"); err != nil {
			return nil, err
		}
		if err := checkRepetition(add, "To extend explorer channels have the same channel <%s>"); err != nil {
			return nil, err
		}
		if err := checkIntersection(out.Fabric.Explorer.Channels, add, "To extend explorer channels %s have already existed"); err != nil {
			return nil, err
		}
		out.Fabric.Explorer.Channels = append(out.Fabric.Explorer.Channels, add...)
	}

	if err := out.Validate(); err != nil {
		return nil, errors.Wrap(err, "merged deployment is invalid")
	}
	return out, nil
}

func (e *Extend) mergeChannels(channels map[string]ChannelSpec, peerOrgs map[string]PeerOrg) error {
	if len(e.AddChannels) == 0 {
		return nil
	}
	var profiles, consortiums []string
	for _, id := range sortedKeys(e.AddChannels) {
		cfg := e.AddChannels[id]
		if cfg.Profile == "" {
			return errors.Errorf("To extend channel<%s> must have attr 'profile'", id)
		}
		if cfg.Consortium == "" {
			return errors.Errorf("To extend channel<%s> must have attr 'consortium'", id)
		}
		if len(cfg.Orgs) < 2 {
			return errors.Errorf("To extend channel<%s> must have multiple organizations", id)
		}
		if err := checkContains(sortedKeys(peerOrgs), cfg.Orgs,
			"To extend channel<"+id+"> organization %s could not been found"); err != nil {
			return err
		}
		profiles = append(profiles, strings.ToLower(cfg.Profile))
		consortiums = append(consortiums, strings.ToLower(cfg.Consortium))
	}

	if err := checkIntersection(sortedKeys(channels), sortedKeys(e.AddChannels),
		"To extend channel id %s have already existed"); err != nil {
		return err
	}

	var existingProfiles, existingConsortiums []string
	for _, ch := range channels {
		existingProfiles = append(existingProfiles, strings.ToLower(ch.Profile))
		if ch.Consortium != "" {
			existingConsortiums = append(existingConsortiums, strings.ToLower(ch.Consortium))
		}
	}
	if err := checkRepetition(profiles, "To extend channels have the same profile <%s>"); err != nil {
		return err
	}
	if err := checkIntersection(existingProfiles, profiles, "To extend channels profile %s have already existed"); err != nil {
		return err
	}
	if err := checkRepetition(consortiums, "To extend channels have the same consortium <%s>"); err != nil {
		return err
	}
	if err := checkIntersection(existingConsortiums, consortiums, "To extend channels consortium %s have already existed"); err != nil {
		return err
	}

	for id, cfg := range e.AddChannels {
		channels[id] = cfg
	}
	return nil
}

// NewHosts returns the pool ids the extension adds to base.
func (e *Extend) NewHosts(base *Deployment) []string {
	var ids []string
	for _, id := range sortedKeys(e.Hosts.Pool) {
		if _, ok := base.Hosts.Pool[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewPeers returns, per existing organization, the host ids of added peers.
func (e *Extend) NewPeers() map[string][]string {
	out := make(map[string][]string, len(e.AddPeers))
	for org, hosts := range e.AddPeers {
		if len(hosts) > 0 {
			out[org] = append([]string(nil), hosts...)
		}
	}
	return out
}

// NewOrganizations returns the added organization names, sorted.
func (e *Extend) NewOrganizations() []string {
	return sortedKeys(e.AddOrgs)
}

// NewChannels returns the added channels with their consortiums, sorted by id.
func (e *Extend) NewChannels() []NewChannel {
	var out []NewChannel
	for _, id := range sortedKeys(e.AddChannels) {
		out = append(out, NewChannel{ID: strings.ToLower(id), Consortium: e.AddChannels[id].Consortium})
	}
	return out
}

// ExtendedChannels returns channel id => organizations to add.
func (e *Extend) ExtendedChannels() map[string][]string {
	out := make(map[string][]string, len(e.ExtendChannels))
	for id, ch := range e.ExtendChannels {
		out[strings.ToLower(id)] = append([]string(nil), ch.Orgs...)
	}
	return out
}

// NeedsCertificates reports whether new crypto material is required.
func (e *Extend) NeedsCertificates() bool {
	return len(e.AddPeers) > 0 || len(e.AddOrgs) > 0
}

// NeedsExplorer reports whether the explorer must be refreshed.
func (e *Extend) NeedsExplorer() bool {
	return e.ExtendExplorer != nil && len(e.ExtendExplorer.Channels) > 0
}

func checkIntersection(first, second []string, msg string) error {
	seen := make(map[string]bool, len(first))
	for _, v := range first {
		seen[strings.ToLower(v)] = true
	}
	var dup []string
	for _, v := range second {
		if seen[strings.ToLower(v)] {
			dup = append(dup, v)
		}
	}
	if len(dup) > 0 {
		return errors.Errorf(msg, strings.Join(dup, ","))
	}
	return nil
}

func checkContains(src, dest []string, msg string) error {
	have := make(map[string]bool, len(src))
	for _, v := range src {
		have[strings.ToLower(v)] = true
	}
	var missing []string
	for _, v := range dest {
		if !have[strings.ToLower(v)] {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf(msg, strings.Join(missing, ","))
	}
	return nil
}

func checkRepetition(values []string, msg string) error {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
		if counts[v] == 2 {
			return errors.Errorf(msg, v)
		}
	}
	return nil
}

// bumpChaincodeVersion raises a "1.0" style version by 0.1.
func bumpChaincodeVersion(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return fmt.Sprintf("%.1f", f+0.1)
}

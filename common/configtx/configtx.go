package configtx

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Organization is one entry of the Organizations section of configtx.yaml.
type Organization struct {
	Name        string            `yaml:"Name"`
	ID          string            `yaml:"ID"`
	MSPDir      string            `yaml:"MSPDir"`
	Policies    map[string]Policy `yaml:"Policies,omitempty"`
	AnchorPeers []AnchorPeer      `yaml:"AnchorPeers,omitempty"`
}

// Policy is a configtx policy definition, e.g. Type "Signature" with Rule
// "OR('Org1MSP.admin')".
type Policy struct {
	Type string `yaml:"Type"`
	Rule string `yaml:"Rule"`
}

type AnchorPeer struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`
}

// Profile keeps the parts of a configtx profile needed to validate
// configtxgen invocations before they are made.
type Profile struct {
	Consortium  string                `yaml:"Consortium,omitempty"`
	Consortiums map[string]Consortium `yaml:"Consortiums,omitempty"`
	Application *ProfileApplication   `yaml:"Application,omitempty"`
}

type Consortium struct {
	Organizations []Organization `yaml:"Organizations"`
}

type ProfileApplication struct {
	Organizations []Organization `yaml:"Organizations"`
}

// Document is the subset of configtx.yaml read by fabctl.
type Document struct {
	Organizations []Organization     `yaml:"Organizations"`
	Profiles      map[string]Profile `yaml:"Profiles"`
}

// Load reads a configtx.yaml file.
func Load(path string) (*Document, error) {
	if path == "" {
		return nil, errors.New("configtx path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configtx file %s", path)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse configtx YAML")
	}
	return &doc, nil
}

// Organization looks up an organization by MSP id or name.
func (d *Document) Organization(id string) (*Organization, bool) {
	for i := range d.Organizations {
		org := &d.Organizations[i]
		if org.ID == id || strings.EqualFold(org.Name, id) {
			return org, true
		}
	}
	return nil, false
}

// Profile looks up a profile by name.
func (d *Document) Profile(name string) (*Profile, error) {
	p, ok := d.Profiles[name]
	if !ok {
		return nil, errors.Errorf("profile '%s' not found", name)
	}
	return &p, nil
}

// HasConsortium reports whether the genesis profile defines the consortium.
func (p *Profile) HasConsortium(name string) bool {
	for k := range p.Consortiums {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

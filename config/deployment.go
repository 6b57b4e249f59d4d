package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultGenesisProfile = "ParcelXOrgsOrdererGenesis"

// Deployment describes the whole network: hosts, organizations and channels.
type Deployment struct {
	Version string `yaml:"version" validate:"required"`
	Hosts   Hosts  `yaml:"hosts"`
	Fabric  Fabric `yaml:"fabric"`
}

type Hosts struct {
	Credential Credential           `yaml:"credential,omitempty"`
	Pool       map[string]HostEntry `yaml:"pool" validate:"required,min=1,dive"`
}

type Credential struct {
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type HostEntry struct {
	IP       string `yaml:"ip" validate:"required"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Port     int    `yaml:"port,omitempty"`
}

type Fabric struct {
	Version    map[string]string      `yaml:"version" validate:"required"`
	Genesis    string                 `yaml:"genesis,omitempty"`
	OrdererOrg OrdererOrg             `yaml:"ordererOrg"`
	PeerOrgs   map[string]PeerOrg     `yaml:"peerOrgs" validate:"required,min=1,dive"`
	Channels   map[string]ChannelSpec `yaml:"channels" validate:"required,min=1,dive"`
	Explorer   *Explorer              `yaml:"explorer,omitempty"`
}

type OrdererOrg struct {
	Name       string   `yaml:"name,omitempty"`
	Domain     string   `yaml:"domain" validate:"required"`
	Zookeepers []string `yaml:"zookeepers" validate:"required,min=1"`
	Kafkas     []string `yaml:"kafkas" validate:"required,min=1"`
	Orderers   []string `yaml:"orderers" validate:"required,min=1"`
}

type PeerOrg struct {
	Domain     string   `yaml:"domain,omitempty"`
	Peers      []string `yaml:"peers" validate:"required,min=1"`
	Country    string   `yaml:"country,omitempty"`
	Province   string   `yaml:"province,omitempty"`
	UsersCount int      `yaml:"usersCount,omitempty"`
}

type ChannelSpec struct {
	Profile    string               `yaml:"profile"`
	Orgs       []string             `yaml:"orgs"`
	Consortium string               `yaml:"consortium,omitempty"`
	Chaincodes map[string]Chaincode `yaml:"chaincodes,omitempty"`
}

type Chaincode struct {
	Version string `yaml:"version"`
	// Path is the chaincode source path inside the cli container's GOPATH.
	Path  string         `yaml:"path"`
	Extra map[string]any `yaml:",inline"`
}

type Explorer struct {
	Peer     string   `yaml:"peer"`
	Channels []string `yaml:"channels,omitempty"`
}

// LoadDeployment reads and validates a deployment file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read deployment file %s", path)
	}
	return ParseDeployment(data)
}

// ParseDeployment decodes and validates a deployment document.
func ParseDeployment(data []byte) (*Deployment, error) {
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "failed to parse deployment YAML")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks required sections the way the deployment loader reports them.
func (d *Deployment) Validate() error {
	if err := documentValidator.Struct(d); err != nil {
		return describeValidation(err)
	}
	for id, h := range d.Hosts.Pool {
		if h.User == "" && d.Hosts.Credential.User == "" {
			return errors.Errorf("host<%s> login user must be provided", id)
		}
		if h.Password == "" && h.Key == "" && d.Hosts.Credential.Password == "" {
			return errors.Errorf("host<%s> login password or key must be provided", id)
		}
	}
	return nil
}

// Save writes the document, keeping the previous file as
// deployment_backup_{version}.yaml next to it.
func (d *Deployment) Save(path string, previousVersion string) error {
	if _, err := os.Stat(path); err == nil && previousVersion != "" {
		backup := filepath.Join(filepath.Dir(path), "deployment_backup_"+previousVersion+".yaml")
		_ = os.Remove(backup)
		if err := os.Rename(path, backup); err != nil {
			return errors.Wrap(err, "failed to back up deployment file")
		}
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "failed to encode deployment")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// GenesisProfile returns the configtx profile of the ordering genesis block.
func (d *Deployment) GenesisProfile() string {
	if d.Fabric.Genesis == "" {
		return DefaultGenesisProfile
	}
	return d.Fabric.Genesis
}

// OrdererOrgName returns the ordering organization name.
func (d *Deployment) OrdererOrgName() string {
	if d.Fabric.OrdererOrg.Name == "" {
		return "ordererOrg"
	}
	return d.Fabric.OrdererOrg.Name
}

// HostIDs returns the pool ids in sorted order.
func (d *Deployment) HostIDs() []string {
	return sortedKeys(d.Hosts.Pool)
}

// PeerOrgNames returns the peer organization names in sorted order.
func (d *Deployment) PeerOrgNames() []string {
	return sortedKeys(d.Fabric.PeerOrgs)
}

// ChannelIDs returns the channel ids in sorted order.
func (d *Deployment) ChannelIDs() []string {
	return sortedKeys(d.Fabric.Channels)
}

// Clone returns a deep copy.
func (d *Deployment) Clone() (*Deployment, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to copy deployment")
	}
	var out Deployment
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "failed to copy deployment")
	}
	return &out, nil
}

var documentValidator = validator.New()

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.Errorf("%s must be provided (%s)", strings.TrimPrefix(fe.Namespace(), "Deployment."), fe.Tag())
	}
	return errors.Wrap(err, "invalid document")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package msp

import (
	"os"
	"path/filepath"

	mspproto "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// OUIdentifier names an organizational unit, optionally pinned to the CA
// certificate that issues it.
type OUIdentifier struct {
	Certificate                  []byte
	OrganizationalUnitIdentifier string
}

// NodeOUs classifies identities by the OU of their certificate.
type NodeOUs struct {
	Enable  bool
	Client  *OUIdentifier
	Peer    *OUIdentifier
	Admin   *OUIdentifier
	Orderer *OUIdentifier
}

type ouFile struct {
	Certificate                  string `yaml:"Certificate"`
	OrganizationalUnitIdentifier string `yaml:"OrganizationalUnitIdentifier"`
}

type configFile struct {
	NodeOUs *struct {
		Enable              bool    `yaml:"Enable"`
		ClientOUIdentifier  *ouFile `yaml:"ClientOUIdentifier"`
		PeerOUIdentifier    *ouFile `yaml:"PeerOUIdentifier"`
		AdminOUIdentifier   *ouFile `yaml:"AdminOUIdentifier"`
		OrdererOUIdentifier *ouFile `yaml:"OrdererOUIdentifier"`
	} `yaml:"NodeOUs"`
}

// loadNodeOUs reads the NodeOUs section of {dir}/config.yaml. Certificate
// paths are relative to dir.
func loadNodeOUs(dir string) (*NodeOUs, error) {
	path := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var conf configFile
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if conf.NodeOUs == nil {
		return nil, nil
	}

	n := &NodeOUs{Enable: conf.NodeOUs.Enable}
	for _, ou := range []struct {
		in  *ouFile
		out **OUIdentifier
	}{
		{conf.NodeOUs.ClientOUIdentifier, &n.Client},
		{conf.NodeOUs.PeerOUIdentifier, &n.Peer},
		{conf.NodeOUs.AdminOUIdentifier, &n.Admin},
		{conf.NodeOUs.OrdererOUIdentifier, &n.Orderer},
	} {
		if ou.in == nil {
			continue
		}
		id := &OUIdentifier{OrganizationalUnitIdentifier: ou.in.OrganizationalUnitIdentifier}
		if ou.in.Certificate != "" {
			if id.Certificate, err = os.ReadFile(filepath.Join(dir, ou.in.Certificate)); err != nil {
				return nil, errors.Wrapf(err, "failed to read NodeOU certificate %s", ou.in.Certificate)
			}
		}
		*ou.out = id
	}
	return n, nil
}

func (o *OUIdentifier) proto() *mspproto.FabricOUIdentifier {
	if o == nil {
		return nil
	}
	return &mspproto.FabricOUIdentifier{
		Certificate:                  o.Certificate,
		OrganizationalUnitIdentifier: o.OrganizationalUnitIdentifier,
	}
}

func (n *NodeOUs) proto() *mspproto.FabricNodeOUs {
	return &mspproto.FabricNodeOUs{
		Enable:              n.Enable,
		ClientOuIdentifier:  n.Client.proto(),
		PeerOuIdentifier:    n.Peer.proto(),
		AdminOuIdentifier:   n.Admin.proto(),
		OrdererOuIdentifier: n.Orderer.proto(),
	}
}

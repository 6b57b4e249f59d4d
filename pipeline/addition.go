package pipeline

import (
	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/msp"
)

// Addition is the change an update run makes to a channel configuration.
// It is either AddOrganization or AddConsortium.
type Addition interface {
	// Subject names the run's artifacts and signature record.
	Subject() string
	isAddition()
}

// AddOrganization adds an application organization to a channel.
type AddOrganization struct {
	// Name is the organization in domain form, e.g. orgC.
	Name  string
	MSPID string
}

// NewAddOrganization derives both forms of an organization name.
func NewAddOrganization(org string) (AddOrganization, error) {
	name, err := msp.FormatOrgDomain(org)
	if err != nil {
		return AddOrganization{}, err
	}
	mspID, err := msp.FormatOrgMSPID(name)
	if err != nil {
		return AddOrganization{}, err
	}
	return AddOrganization{Name: name, MSPID: mspID}, nil
}

func (a AddOrganization) Subject() string { return a.MSPID }
func (AddOrganization) isAddition()       {}

// AddConsortium adds a consortium to the system channel. The consortium is
// copied from a genesis block generated with GenesisProfile.
type AddConsortium struct {
	Name           string
	GenesisProfile string
}

func (a AddConsortium) Subject() string { return a.Name }
func (AddConsortium) isAddition()       {}

func validateAddition(add Addition) error {
	switch a := add.(type) {
	case AddOrganization:
		if a.Name == "" || a.MSPID == "" {
			return errors.New("organization name and MSP id must be provided")
		}
	case AddConsortium:
		if a.Name == "" || a.GenesisProfile == "" {
			return errors.New("consortium name and genesis profile must be provided")
		}
	case nil:
		return errors.New("addition cannot be nil")
	default:
		return errors.Errorf("unsupported addition %T", add)
	}
	return nil
}

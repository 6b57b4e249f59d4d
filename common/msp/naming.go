package msp

import (
	"strings"

	"github.com/pkg/errors"
)

// FormatOrgName capitalizes an organization name: orgabc => OrgAbc.
func FormatOrgName(org string) string {
	if org == "" {
		return ""
	}
	if len(org) > 3 && strings.EqualFold(org[:3], "org") {
		return "Org" + strings.ToUpper(org[3:4]) + org[4:]
	}
	return strings.ToUpper(org[:1]) + org[1:]
}

// FormatOrgMSPID converts an organization name into its MSP id: org2 => Org2MSP.
// A name that already ends in "msp" keeps a single suffix.
func FormatOrgMSPID(org string) (string, error) {
	if len(org) <= 3 {
		return "", errors.Errorf("invalid org name %q", org)
	}
	name := FormatOrgName(org)
	if strings.EqualFold(org[len(org)-3:], "msp") {
		return name[:len(name)-3] + "MSP", nil
	}
	return name + "MSP", nil
}

// FormatOrgDomain converts an organization name or MSP id into the form used
// in domains and file paths: OrgEast / orgEast / orgEastMSP => orgEast.
func FormatOrgDomain(org string) (string, error) {
	if len(org) <= 3 || !strings.EqualFold(org[:3], "org") {
		return "", errors.Errorf("organization name %q must be formatted as org[...]", org)
	}
	name := "org" + strings.ToUpper(org[3:4]) + org[4:]
	if len(org) > 6 && strings.EqualFold(org[len(org)-3:], "msp") {
		return name[:len(name)-3], nil
	}
	return name, nil
}

// IsOrdererOrg reports whether name refers to the ordering organization.
func IsOrdererOrg(name string) bool {
	switch strings.ToLower(name) {
	case "orderer", "ordererorg":
		return true
	}
	return false
}

package msp

import (
	"os"
	"path/filepath"
	"sort"

	mspproto "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/cert"
)

// Sub directories of a verifying MSP as laid out by cryptogen.
const (
	CACertsDir              = "cacerts"
	IntermediateCertsDir    = "intermediatecerts"
	AdminCertsDir           = "admincerts"
	TLSCACertsDir           = "tlscacerts"
	TLSIntermediateCertsDir = "tlsintermediatecerts"
	CRLsDir                 = "crls"
	ConfigFile              = "config.yaml"
)

// Dir is the certificate material of an organization MSP directory. Every
// certificate is kept PEM encoded, the form it takes in a channel config.
type Dir struct {
	Path                 string
	RootCerts            [][]byte
	IntermediateCerts    [][]byte
	Admins               [][]byte
	TLSRootCerts         [][]byte
	TLSIntermediateCerts [][]byte
	RevocationList       [][]byte
	NodeOUs              *NodeOUs
}

// LoadDir reads a verifying MSP. cacerts is required, the other sub
// directories are optional.
func LoadDir(path string) (*Dir, error) {
	if err := ValidateStructure(path); err != nil {
		return nil, err
	}
	d := &Dir{Path: path}
	var err error
	if d.RootCerts, err = readCerts(path, CACertsDir); err != nil {
		return nil, err
	}
	if len(d.RootCerts) == 0 {
		return nil, errors.Errorf("no CA certificate found in %s", filepath.Join(path, CACertsDir))
	}
	if d.IntermediateCerts, err = readCerts(path, IntermediateCertsDir); err != nil {
		return nil, err
	}
	if d.Admins, err = readCerts(path, AdminCertsDir); err != nil {
		return nil, err
	}
	if d.TLSRootCerts, err = readCerts(path, TLSCACertsDir); err != nil {
		return nil, err
	}
	if d.TLSIntermediateCerts, err = readCerts(path, TLSIntermediateCertsDir); err != nil {
		return nil, err
	}
	if d.RevocationList, err = readFiles(path, CRLsDir); err != nil {
		return nil, err
	}
	if d.NodeOUs, err = loadNodeOUs(path); err != nil {
		return nil, err
	}
	return d, nil
}

// ValidateStructure checks that path looks like an MSP directory.
func ValidateStructure(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "MSP directory %s is not accessible", path)
	}
	if !stat.IsDir() {
		return errors.Errorf("expected MSP directory but found file: %s", path)
	}
	stat, err = os.Stat(filepath.Join(path, CACertsDir))
	if err != nil || !stat.IsDir() {
		return errors.Errorf("required directory missing: %s", filepath.Join(path, CACertsDir))
	}
	return nil
}

// FabricConfig is the verifying MSP configuration of mspID.
func (d *Dir) FabricConfig(mspID string) *mspproto.FabricMSPConfig {
	conf := &mspproto.FabricMSPConfig{
		Name:                 mspID,
		RootCerts:            d.RootCerts,
		IntermediateCerts:    d.IntermediateCerts,
		Admins:               d.Admins,
		RevocationList:       d.RevocationList,
		TlsRootCerts:         d.TLSRootCerts,
		TlsIntermediateCerts: d.TLSIntermediateCerts,
		CryptoConfig: &mspproto.FabricCryptoConfig{
			SignatureHashFamily:            "SHA2",
			IdentityIdentifierHashFunction: "SHA256",
		},
	}
	if d.NodeOUs != nil {
		conf.FabricNodeOus = d.NodeOUs.proto()
	}
	return conf
}

// readCerts returns the certificates of dir/sub in file name order. A
// missing sub directory yields nothing.
func readCerts(dir, sub string) ([][]byte, error) {
	files, err := readFiles(dir, sub)
	if err != nil {
		return nil, err
	}
	for _, data := range files {
		certs, err := cert.ParseCertificates(data)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid certificate in %s", filepath.Join(dir, sub))
		}
		if sub == CACertsDir || sub == TLSCACertsDir {
			for _, c := range certs {
				if err := cert.VerifyCA(c); err != nil {
					return nil, err
				}
			}
		}
	}
	return files, nil
}

func readFiles(dir, sub string) ([][]byte, error) {
	path := filepath.Join(dir, sub)
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", filepath.Join(path, name))
		}
		out = append(out, data)
	}
	return out, nil
}

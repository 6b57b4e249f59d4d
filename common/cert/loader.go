package cert

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ParseCertificates decodes every CERTIFICATE block of PEM data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse certificate")
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, errors.New("no PEM certificate found")
	}
	return certs, nil
}

// LoadCertPool reads a PEM file of root CAs into a pool. Every certificate
// must be a self-signed CA.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CA file %s", path)
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		if err := VerifyCA(c); err != nil {
			return nil, errors.Wrapf(err, "invalid CA file %s", path)
		}
		pool.AddCert(c)
	}
	return pool, nil
}

// SingleFileInDir returns the first regular file of dir, the way cryptogen
// leaves one certificate per msp sub directory.
func SingleFileInDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read directory %s", dir)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.Errorf("no files found in directory %s", dir)
}

// OrdererTLSCAFile locates the ordering organization TLS CA generated under
// cryptoDir for domain.
func OrdererTLSCAFile(cryptoDir, domain string) (string, error) {
	return SingleFileInDir(filepath.Join(cryptoDir, "crypto-config", "ordererOrganizations", domain, "tlsca"))
}

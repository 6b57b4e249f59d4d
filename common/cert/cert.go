// Package cert loads the TLS CA certificates of the ordering organization.
package cert

import (
	"crypto/x509"

	"github.com/pkg/errors"
)

// VerifyCA checks that caCert is a self-signed certificate marked as CA.
func VerifyCA(caCert *x509.Certificate) error {
	if err := caCert.CheckSignatureFrom(caCert); err != nil {
		return errors.Errorf("certificate %s is not a root CA (not self-signed)", caCert.Subject.CommonName)
	}
	if !caCert.IsCA {
		return errors.Errorf("certificate %s is not marked as CA", caCert.Subject.CommonName)
	}
	return nil
}

// VerifyChain checks that cert is issued by the root caCert.
func VerifyChain(cert, caCert *x509.Certificate) error {
	if err := VerifyCA(caCert); err != nil {
		return err
	}
	if err := cert.CheckSignatureFrom(caCert); err != nil {
		return errors.Wrapf(err, "certificate %s is not signed by %s", cert.Subject.CommonName, caCert.Subject.CommonName)
	}
	return nil
}

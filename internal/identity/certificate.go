package identity

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
)

const (
	pemBlockCertificate = "CERTIFICATE"
	pemHeaderPrefix     = "-----BEGIN"
)

var errInvalidCertificateConfig = errors.New("invalid certificate config")

// CertificateVerifier resolves creator certificates issued by a trusted CA bundle.
type CertificateVerifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewCertificateVerifier builds a verifier trusting the PEM certificates in caPEM.
func NewCertificateVerifier(caPEM []byte) (*CertificateVerifier, error) {
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no CA certificates in bundle", errInvalidCertificateConfig)
	}
	return &CertificateVerifier{roots: roots, now: time.Now}, nil
}

// Verify checks the first certificate in creator against the trusted roots and returns
// its subject common name. Bytes before the PEM header, such as an MSP id, are skipped.
func (verifier *CertificateVerifier) Verify(creator []byte) (string, error) {
	certificate, err := parseCreatorCertificate(creator)
	if err != nil {
		return "", err
	}
	_, err = certificate.Verify(x509.VerifyOptions{
		Roots:       verifier.roots,
		CurrentTime: verifier.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return "", fmt.Errorf("%w: untrusted certificate: %v", ledger.ErrIdentity, err)
	}
	commonName := strings.TrimSpace(certificate.Subject.CommonName)
	if commonName == "" {
		return "", fmt.Errorf("%w: certificate has no common name", ledger.ErrIdentity)
	}
	return commonName, nil
}

func parseCreatorCertificate(creator []byte) (*x509.Certificate, error) {
	if index := bytes.Index(creator, []byte(pemHeaderPrefix)); index > 0 {
		creator = creator[index:]
	}
	block, _ := pem.Decode(creator)
	if block == nil || block.Type != pemBlockCertificate {
		return nil, fmt.Errorf("%w: creator is not a PEM certificate", ledger.ErrIdentity)
	}
	certificate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %v", ledger.ErrIdentity, err)
	}
	return certificate, nil
}

package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
)

func TestCertificateVerifier(test *testing.T) {
	test.Parallel()
	authority := mustAuthority(test, "coins-ca")
	foreign := mustAuthority(test, "other-ca")
	verifier, err := NewCertificateVerifier(authority.pem)
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	now := time.Now()
	testCases := []struct {
		name     string
		creator  []byte
		wantName string
		wantErr  error
	}{
		{name: "issued certificate", creator: authority.issue(test, "sj_coin", now), wantName: "sj_coin"},
		{name: "serialized identity prefix", creator: append([]byte("\n\aOrg1MSP\x12"), authority.issue(test, "alice", now)...), wantName: "alice"},
		{name: "self-signed certificate", creator: mustSelfSignedPEM(test, "sj_coin"), wantErr: ledger.ErrIdentity},
		{name: "foreign authority", creator: foreign.issue(test, "sj_coin", now), wantErr: ledger.ErrIdentity},
		{name: "expired certificate", creator: authority.issue(test, "alice", now.Add(-48*time.Hour)), wantErr: ledger.ErrIdentity},
		{name: "missing common name", creator: authority.issue(test, "", now), wantErr: ledger.ErrIdentity},
		{name: "not pem", creator: []byte("garbage"), wantErr: ledger.ErrIdentity},
		{name: "wrong block", creator: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}), wantErr: ledger.ErrIdentity},
		{name: "corrupt der", creator: pem.EncodeToMemory(&pem.Block{Type: pemBlockCertificate, Bytes: []byte{1, 2, 3}}), wantErr: ledger.ErrIdentity},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			commonName, err := verifier.Verify(testCase.creator)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if commonName != testCase.wantName {
				test.Fatalf("expected %q, got %q", testCase.wantName, commonName)
			}
		})
	}
}

func TestNewCertificateVerifierRequiresBundle(test *testing.T) {
	test.Parallel()
	for name, bundle := range map[string][]byte{"empty": nil, "garbage": []byte("not a bundle")} {
		if _, err := NewCertificateVerifier(bundle); !errors.Is(err, errInvalidCertificateConfig) {
			test.Fatalf("%s: expected invalid config, got %v", name, err)
		}
	}
}

type testAuthority struct {
	certificate *x509.Certificate
	key         *ecdsa.PrivateKey
	pem         []byte
}

func mustAuthority(test *testing.T, commonName string) *testAuthority {
	test.Helper()
	key := mustKey(test)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"coins"}},
		NotBefore:             time.Now().Add(-72 * time.Hour),
		NotAfter:              time.Now().Add(72 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		test.Fatalf("create authority: %v", err)
	}
	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		test.Fatalf("parse authority: %v", err)
	}
	return &testAuthority{
		certificate: certificate,
		key:         key,
		pem:         pem.EncodeToMemory(&pem.Block{Type: pemBlockCertificate, Bytes: der}),
	}
}

// issue signs a leaf valid for one hour either side of validAt.
func (authority *testAuthority) issue(test *testing.T, commonName string, validAt time.Time) []byte {
	test.Helper()
	key := mustKey(test)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"coins"}},
		NotBefore:    validAt.Add(-time.Hour),
		NotAfter:     validAt.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, authority.certificate, &key.PublicKey, authority.key)
	if err != nil {
		test.Fatalf("issue certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockCertificate, Bytes: der})
}

func mustSelfSignedPEM(test *testing.T, commonName string) []byte {
	test.Helper()
	key := mustKey(test)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"coins"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		test.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockCertificate, Bytes: der})
}

func mustKey(test *testing.T) *ecdsa.PrivateKey {
	test.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		test.Fatalf("generate key: %v", err)
	}
	return key
}

package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

type PFXFixture struct {
	PFX         []byte
	Leaf        *x509.Certificate
	Key         *ecdsa.PrivateKey
	Fingerprint string
}

// NewPFX issues a self-signed certificate for commonName and bundles it with
// its key the way A1 certificates are distributed.
func NewPFX(t *testing.T, commonName string, notBefore, notAfter time.Time, passphrase string) PFXFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"ICP-Brasil"}},
		Issuer:       pkix.Name{CommonName: "AC Teste"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pfx, err := pkcs12.Legacy.Encode(key, leaf, nil, passphrase)
	if err != nil {
		t.Fatalf("encode pfx: %v", err)
	}
	sum := sha256.Sum256(der)
	return PFXFixture{PFX: pfx, Leaf: leaf, Key: key, Fingerprint: hex.EncodeToString(sum[:])}
}

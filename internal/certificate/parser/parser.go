// Package parser decodes ICP-Brasil credential material: PFX bundles for A1
// certificates and bare public certificates for A3 tokens.
package parser

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

var (
	ErrNoCertificate = errors.New("no_certificate")
	ErrKeyMismatch   = errors.New("private_key_mismatch")
)

type Parsed struct {
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate
	PrivateKey crypto.PrivateKey
}

// ParsePFX decodes a PKCS#12 bundle and checks that the key belongs to the
// leaf certificate.
func ParsePFX(raw []byte, passphrase string) (*Parsed, error) {
	if len(raw) == 0 {
		return nil, ErrNoCertificate
	}
	key, leaf, chain, err := pkcs12.DecodeChain(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decode pfx: %w", err)
	}
	if leaf == nil {
		return nil, ErrNoCertificate
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("decode pfx: unsupported key type %T", key)
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return nil, ErrKeyMismatch
	}
	return &Parsed{Leaf: leaf, Chain: chain, PrivateKey: key}, nil
}

// ParsePublic accepts a PEM block or raw DER.
func ParsePublic(raw []byte) (*Parsed, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("parse certificate: unexpected PEM block %q", block.Type)
		}
		der = block.Bytes
	}
	if len(der) == 0 {
		return nil, ErrNoCertificate
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Parsed{Leaf: leaf}, nil
}

// Fingerprint is the lowercase hex sha256 of the DER certificate.
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// DisplayName prefers the CN and falls back to the full distinguished name.
func DisplayName(name pkix.Name) string {
	if cn := strings.TrimSpace(name.CommonName); cn != "" {
		return cn
	}
	return name.String()
}

func SerialHex(cert *x509.Certificate) string {
	if cert == nil || cert.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(cert.SerialNumber.Text(16))
}

// TLSCertificate assembles the leaf, its chain and the key for mutual TLS.
func (p *Parsed) TLSCertificate() tls.Certificate {
	out := tls.Certificate{
		Certificate: [][]byte{p.Leaf.Raw},
		PrivateKey:  p.PrivateKey,
		Leaf:        p.Leaf,
	}
	for _, ca := range p.Chain {
		out.Certificate = append(out.Certificate, ca.Raw)
	}
	return out
}

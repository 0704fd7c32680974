// Package ca emulates an in-process certificate authority: a self-signed
// RSA root that issues two-level chains binding a user identity to a
// public key. The root is injected as an Authority so tests can run
// against an ephemeral one.
package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/frfusch21/digital-signer-app/internal/errs"
)

const (
	rootKeyFile  = "ca.key"
	rootCertFile = "ca.crt"

	DefaultValidityDays = 365
)

// Authority issues leaf certificates from signing requests and verifies
// certificates against its root.
type Authority interface {
	Issue(csr *x509.CertificateRequest, validFor time.Duration) (certPEM string, serial string, err error)
	Verify(certPEM string) error
	RootCertificatePEM() string
}

// RootDN is the fixed distinguished name of the self-signed root.
var RootDN = pkix.Name{
	Country:            []string{"ID"},
	Province:           []string{"Jawa"},
	Locality:           []string{"Cikarang"},
	Organization:       []string{"Clarisign"},
	OrganizationalUnit: []string{"Certificate Authority"},
	CommonName:         "Clarisign Root CA",
}

type authority struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

// GenerateRoot creates a 2048-bit RSA root key and self-signed certificate
// and persists both under dir with restricted permissions.
func GenerateRoot(dir string, validityDays int) error {
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errs.Crypto("failed to generate root key", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               RootDN,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, validityDays),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return errs.Crypto("failed to self-sign root certificate", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := os.WriteFile(filepath.Join(dir, rootKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write root key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rootCertFile), certPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write root certificate: %w", err)
	}
	return nil
}

// Load reads the persisted root material from dir.
func Load(dir string) (Authority, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, rootKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	certPEM, err := os.ReadFile(filepath.Join(dir, rootCertFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return FromPEM(string(keyPEM), string(certPEM))
}

// FromPEM builds an Authority from in-memory PEM blocks. Tests use this
// with a freshly generated ephemeral root.
func FromPEM(keyPEM, certPEM string) (Authority, error) {
	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, errs.Integrity("CA key is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse CA key", err)
	}

	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil {
		return nil, errs.Integrity("CA certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse CA certificate", err)
	}

	return &authority{key: key, cert: cert}, nil
}

// Ephemeral generates a throwaway root in memory.
func Ephemeral(validityDays int) (Authority, error) {
	dir, err := os.MkdirTemp("", "ca-ephemeral")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	if err := GenerateRoot(dir, validityDays); err != nil {
		return nil, err
	}
	return Load(dir)
}

// Issue signs a CSR with the root key. The chain is exactly two levels,
// root to leaf; serial numbers are random 64-bit values.
func (a *authority) Issue(csr *x509.CertificateRequest, validFor time.Duration) (string, string, error) {
	if err := csr.CheckSignature(); err != nil {
		return "", "", errs.Crypto("CSR signature is invalid", err)
	}
	if validFor <= 0 {
		validFor = time.Duration(DefaultValidityDays) * 24 * time.Hour
	}

	serial, err := randomSerial()
	if err != nil {
		return "", "", err
	}

	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            csr.Subject,
		EmailAddresses:     csr.EmailAddresses,
		NotBefore:          time.Now(),
		NotAfter:           time.Now().Add(validFor),
		KeyUsage:           x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageEmailProtection},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, csr.PublicKey, a.key)
	if err != nil {
		return "", "", errs.Crypto("failed to sign certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return string(certPEM), hex.EncodeToString(serial.Bytes()), nil
}

// Verify checks a leaf certificate chains to this root.
func (a *authority) Verify(certPEM string) error {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return errs.Integrity("certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return errs.Crypto("failed to parse certificate", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(a.cert)
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return errs.Crypto("certificate does not chain to the root", err)
	}
	return nil
}

func (a *authority) RootCertificatePEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.cert.Raw}))
}

// BuildCSR creates a signing request for a user key pair and identity.
func BuildCSR(privatePEM, commonName, email string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errs.Integrity("private key is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse private key", err)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Country:            []string{"ID"},
			Province:           []string{"Indonesia"},
			Locality:           []string{"Jakarta"},
			Organization:       []string{"Clarisign"},
			OrganizationalUnit: []string{"User Services"},
			CommonName:         commonName,
		},
		EmailAddresses:     []string{email},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, errs.Crypto("failed to create CSR", err)
	}
	return x509.ParseCertificateRequest(der)
}

// VerifyHashSignature checks an RSA PKCS#1 v1.5 signature over the SHA-256
// digest of the signing hash, using the public key bound by certPEM.
func VerifyHashSignature(certPEM, hash string, signature []byte) error {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return errs.Integrity("certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return errs.Crypto("failed to parse certificate", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errs.Integrity("certificate does not carry an RSA key")
	}

	digest := sha256.Sum256([]byte(hash))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return errs.Crypto("signature does not verify against the signing hash", err)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	// 64-bit random serial.
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	serial, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, errs.Crypto("failed to generate serial number", err)
	}
	return serial, nil
}

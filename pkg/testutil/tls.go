// Package testutil contains helpers shared by tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// LocalCerts is a root CA and a server certificate for 127.0.0.1 signed by
// that CA, all PEM encoded.
type LocalCerts struct {
	RootCAPEM     []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
}

// NewLocalCerts generates a root CA and server certificate.
func NewLocalCerts() (*LocalCerts, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	rootTemplate, err := certTemplate()
	if err != nil {
		return nil, fmt.Errorf("root cert template: %w", err)
	}
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}

	rootDER, rootCert, err := cert(
		rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, fmt.Errorf("root cert: %w", err)
	}

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serverTemplate, err := certTemplate()
	if err != nil {
		return nil, fmt.Errorf("server cert template: %w", err)
	}
	serverTemplate.KeyUsage = x509.KeyUsageDigitalSignature
	serverTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	serverTemplate.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1)}

	serverDER, _, err := cert(
		serverTemplate, rootCert, &serverKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, fmt.Errorf("server cert: %w", err)
	}
	serverKeyDER, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	return &LocalCerts{
		RootCAPEM: pem.EncodeToMemory(&pem.Block{
			Type: "CERTIFICATE", Bytes: rootDER,
		}),
		ServerCertPEM: pem.EncodeToMemory(&pem.Block{
			Type: "CERTIFICATE", Bytes: serverDER,
		}),
		ServerKeyPEM: pem.EncodeToMemory(&pem.Block{
			Type: "EC PRIVATE KEY", Bytes: serverKeyDER,
		}),
	}, nil
}

// RootCAPool returns a pool containing the root CA.
func (c *LocalCerts) RootCAPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(c.RootCAPEM)
	return pool
}

func (c *LocalCerts) ServerCert() (tls.Certificate, error) {
	return tls.X509KeyPair(c.ServerCertPEM, c.ServerKeyPEM)
}

// WriteFiles writes 'ca.pem', 'cert.pem' and 'key.pem' to the given
// directory, returning their paths.
func (c *LocalCerts) WriteFiles(dir string) (string, string, string, error) {
	caPath := filepath.Join(dir, "ca.pem")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	for path, b := range map[string][]byte{
		caPath:   c.RootCAPEM,
		certPath: c.ServerCertPEM,
		keyPath:  c.ServerKeyPEM,
	} {
		if err := os.WriteFile(path, b, 0o600); err != nil {
			return "", "", "", fmt.Errorf("write: %s: %w", path, err)
		}
	}
	return caPath, certPath, keyPath, nil
}

// LocalTLSServerCert creates a root CA and server TLS certificate.
func LocalTLSServerCert() (*x509.CertPool, tls.Certificate, error) {
	certs, err := NewLocalCerts()
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	serverCert, err := certs.ServerCert()
	if err != nil {
		return nil, tls.Certificate{}, fmt.Errorf("server key pair: %w", err)
	}
	return certs.RootCAPool(), serverCert, nil
}

func cert(
	template *x509.Certificate,
	parent *x509.Certificate,
	publicKey interface{},
	parentPrivateKey interface{},
) ([]byte, *x509.Certificate, error) {
	certDER, err := x509.CreateCertificate(
		rand.Reader, template, parent, publicKey, parentPrivateKey,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create cert: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse cert: %w", err)
	}
	return certDER, cert, nil
}

func certTemplate() (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	return &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"swimrelay"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour * 24),
		BasicConstraintsValid: true,
	}, nil
}

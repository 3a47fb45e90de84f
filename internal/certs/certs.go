// Package certs generates the self-signed TLS certificate used by the
// reverse proxy when no real certificate is supplied.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Request describes the certificate subject.
type Request struct {
	CommonName   string `json:"common_name"`
	CountryCode  string `json:"countrycode"`
	State        string `json:"state"`
	City         string `json:"city"`
	Organisation string `json:"organisation"`
	ValidDays    int    `json:"valid_days"`
}

// GenerateSelfSigned writes a PEM key and self-signed certificate for the
// request to keyPath and certPath.
func GenerateSelfSigned(req Request, keyPath, certPath string) error {
	if req.CommonName == "" {
		return fmt.Errorf("common name is required")
	}
	if req.ValidDays <= 0 {
		return fmt.Errorf("valid_days must be positive")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	subject := pkix.Name{
		CommonName:   req.CommonName,
		Country:      []string{req.CountryCode},
		Province:     []string{req.State},
		Locality:     []string{req.City},
		Organization: []string{req.Organisation},
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(0, 0, req.ValidDays),
		DNSNames:     []string{req.CommonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	for _, dir := range []string{filepath.Dir(keyPath), filepath.Dir(certPath)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}

	return nil
}

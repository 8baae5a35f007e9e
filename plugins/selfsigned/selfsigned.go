// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package selfsigned provides a [quickserve.Plugin] which serves https
// with a freshly generated self-signed certificate.
//
// Importing the package for its side effects registers the plugin under
// the name "selfsigned":
//
//	import _ "github.com/z5labs/quickserve/plugins/selfsigned"
//
//	err := quickserve.DefaultRegistry.LoadNamed("selfsigned")
package selfsigned

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/z5labs/quickserve"
	"github.com/z5labs/quickserve/ptr"
)

func init() {
	quickserve.RegisterPlugin("selfsigned", lazyPlugin())
}

type options struct {
	hosts    []string
	validFor time.Duration
	port     *quickserve.PortSpec
}

// Option customizes the generated certificate and the plugin.
type Option func(*options)

// Hosts sets the DNS names and IP addresses the certificate is valid for.
// Default is localhost, 127.0.0.1 and ::1.
func Hosts(hosts ...string) Option {
	return func(o *options) {
		o.hosts = hosts
	}
}

// ValidFor sets how long the certificate is valid for. Default is one day.
func ValidFor(d time.Duration) Option {
	return func(o *options) {
		o.validFor = d
	}
}

// Port sets the port of servers which were not given one.
func Port(p quickserve.PortSpec) Option {
	return func(o *options) {
		o.port = &p
	}
}

// Plugin generates a certificate and returns a plugin which fills in
// the https scheme along with that certificate and its key.
func Plugin(opts ...Option) (quickserve.Plugin, error) {
	o := &options{
		hosts:    []string{"localhost", "127.0.0.1", "::1"},
		validFor: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(o)
	}

	certPEM, keyPEM, err := Generate(o.validFor, o.hosts...)
	if err != nil {
		return nil, err
	}

	return func(quickserve.Options) quickserve.Options {
		return quickserve.Options{
			Scheme: ptr.Ref("https"),
			Port:   ptr.Clone(o.port),
			Cert:   certPEM,
			Key:    keyPEM,
		}
	}, nil
}

func lazyPlugin() quickserve.Plugin {
	newPlugin := sync.OnceValues(func() (quickserve.Plugin, error) {
		return Plugin()
	})
	return func(in quickserve.Options) quickserve.Options {
		p, err := newPlugin()
		if err != nil {
			panic(err)
		}
		return p(in)
	}
}

// Generate creates an ECDSA P-256 key and a self-signed certificate for
// hosts, returning both PEM encoded.
func Generate(validFor time.Duration, hosts ...string) (certPEM []byte, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"quickserve"},
			CommonName:   "localhost",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
			continue
		}
		template.DNSNames = append(template.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

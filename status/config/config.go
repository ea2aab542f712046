package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
)

type TLSConfig struct {
	// RootCAs contains a path to root certificate authorities to validate
	// the admin server certificate.
	//
	// Defaults to using the host root CAs.
	RootCAs string `json:"root_cas" yaml:"root_cas"`

	// InsecureSkipVerify configures the client to accept any certificate
	// presented by the server and any host name in that certificate.
	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

func (c *TLSConfig) Load() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.RootCAs != "" {
		caCert, err := os.ReadFile(c.RootCAs)
		if err != nil {
			return nil, fmt.Errorf("open root cas: %s: %w", c.RootCAs, err)
		}
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("parse root cas: %s", c.RootCAs)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

type ServerConfig struct {
	// URL is the admin server URL.
	URL string `json:"url"`

	Timeout time.Duration `json:"timeout"`

	TLS TLSConfig `json:"tls"`
}

func (c *ServerConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("missing url")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if c.Timeout == 0 {
		return fmt.Errorf("missing timeout")
	}
	return nil
}

type Config struct {
	Server ServerConfig `json:"server"`
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Server.URL,
		"server.url",
		"http://localhost:8002",
		`
Admin server URL of the node or aggregator to inspect.`,
	)
	fs.DurationVar(
		&c.Server.Timeout,
		"server.timeout",
		time.Second*15,
		`
Timeout of each request to the admin server.`,
	)
	fs.StringVar(
		&c.Server.TLS.RootCAs,
		"server.tls.root-cas",
		"",
		`
A path to a certificate PEM file containing root certificiate authorities to
validate the admin server certificate.

Defaults to using the host root CAs.`,
	)
	fs.BoolVar(
		&c.Server.TLS.InsecureSkipVerify,
		"server.tls.insecure-skip-verify",
		false,
		`
Configures the client to accept any certificate presented by the server and any
host name in that certificate.`,
	)
}

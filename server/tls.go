package server

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/saiset-co/sai-web/types"
)

// LoadTLSConfig reads and validates the configured certificate pair.
func LoadTLSConfig(config *types.TLSConfig) (*tls.Config, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	if config.CertFile == "" || config.KeyFile == "" {
		return nil, types.NewErrorf("TLS enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}

	if err := validateCertificate(cert, time.Now()); err != nil {
		return nil, types.WrapError(err, "failed to validate certificate files")
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

func listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		return tls.NewListener(ln, tlsConfig), nil
	}
	return ln, nil
}

func validateCertificate(cert tls.Certificate, now time.Time) error {
	if len(cert.Certificate) == 0 {
		return types.NewErrorf("certificate chain is empty")
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	if now.Before(x509Cert.NotBefore) {
		return types.NewErrorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.NewErrorf("certificate expired")
	}

	return nil
}

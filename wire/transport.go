// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"crypto/tls"

	"github.com/luxfi/quorumguard/quorumerrors"
)

// allowedCipherSuites is the closed set of TLS 1.3 AEAD ciphers the peer
// wire protocol accepts (§6): "AES-256-GCM or ChaCha20-Poly1305 ciphers
// only". TLS 1.3's own suite list is already restricted to AEAD ciphers,
// so this set further excludes AES-128-GCM.
var allowedCipherSuites = map[uint16]bool{
	tls.TLS_AES_256_GCM_SHA384:       true,
	tls.TLS_CHACHA20_POLY1305_SHA256: true,
}

// CheckTransport enforces the hard precondition of the protocol's safety
// (§6): the connection must be TLS 1.3, mutually authenticated, and
// restricted to the allowed AEAD cipher suites. It is meant to run on
// tls.ConnectionState from a completed handshake where
// tls.Config.ClientAuth was set to tls.RequireAndVerifyClientCert.
func CheckTransport(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return quorumerrors.New(quorumerrors.KindInternal, "transport is not TLS 1.3", quorumerrors.ErrInsecureTransport)
	}
	if !allowedCipherSuites[state.CipherSuite] {
		return quorumerrors.New(quorumerrors.KindInternal, "transport cipher suite not permitted", quorumerrors.ErrInsecureTransport)
	}
	if len(state.PeerCertificates) == 0 {
		return quorumerrors.New(quorumerrors.KindInternal, "transport is not mutually authenticated", quorumerrors.ErrInsecureTransport)
	}
	return nil
}

// ServerTLSConfig returns a tls.Config enforcing the protocol's transport
// precondition for a listening peer: TLS 1.3 only, client certificates
// required and verified. crypto/tls does not apply the CipherSuites list
// to TLS 1.3 connections, so this config does not by itself exclude
// AES-128-GCM; CheckTransport rejects a connection that negotiated a suite
// outside the allowed set.
func ServerTLSConfig(cert tls.Certificate, clientCAs *tls.Config) *tls.Config {
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs.ClientCAs
	}
	return cfg
}

// Package sinktest starts an in-process implicit-TLS mail sink for tests,
// in the manner of net/http/httptest.
package sinktest

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"testing"

	"github.com/shineum/formmail/internal/smtpsink"
	formtls "github.com/shineum/formmail/internal/tls"
)

// Sink is a running mail sink bound to a loopback port.
type Sink struct {
	Host     string
	Port     int
	Username string
	Password string

	// ClientTLS trusts the sink's self-signed certificate.
	ClientTLS *tls.Config

	// Mailbox holds every accepted message. It stays empty when
	// WithMailbox replaced it.
	Mailbox *smtpsink.Recorder
}

// Option adjusts the sink's server configuration.
type Option func(*smtpsink.ServerConfig)

// WithMailbox delivers accepted messages to m instead of the Recorder.
func WithMailbox(m smtpsink.Mailbox) Option {
	return func(cfg *smtpsink.ServerConfig) {
		cfg.Mailbox = m
	}
}

// Start runs a sink requiring username/password until the test ends.
func Start(t testing.TB, username, password string, opts ...Option) *Sink {
	t.Helper()

	serverTLS, err := formtls.LoadOrGenerateTLS("", "")
	if err != nil {
		t.Fatalf("failed to create sink certificate: %v", err)
	}
	pool, err := formtls.CertPool(serverTLS.Certificates[0])
	if err != nil {
		t.Fatalf("failed to build sink cert pool: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	recorder := &smtpsink.Recorder{}
	cfg := smtpsink.ServerConfig{
		Hostname:     "sink.test",
		Mailbox:      recorder,
		TLSConfig:    serverTLS,
		AuthUsername: username,
		AuthPassword: password,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := smtpsink.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	return &Sink{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		ClientTLS: &tls.Config{
			ServerName: host,
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		},
		Mailbox: recorder,
	}
}

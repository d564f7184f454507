package dialer

import (
	"crypto/tls"
	"testing"
)

// ResolveMX and Dial both perform real network I/O (DNS queries, TCP
// dials); they are exercised by cmd/smtpsend against a live server
// rather than by a unit test here. CreateClientTLSConfig is pure and
// gets full coverage.

func TestCreateClientTLSConfig_DefaultTrustStore(t *testing.T) {
	cfg := CreateClientTLSConfig("mail.example.com", nil)
	if cfg.ServerName != "mail.example.com" {
		t.Fatalf("got %q, want %q", cfg.ServerName, "mail.example.com")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("got %v, want TLS 1.2 minimum", cfg.MinVersion)
	}
}

func TestCreateClientTLSConfig_ClonesSuppliedTrustStore(t *testing.T) {
	base := &tls.Config{MinVersion: tls.VersionTLS13, ServerName: "placeholder"}
	cfg := CreateClientTLSConfig("mx.example.org", base)
	if cfg == base {
		t.Fatal("expected CreateClientTLSConfig to clone, not reuse, the supplied config")
	}
	if cfg.ServerName != "mx.example.org" {
		t.Fatalf("got %q, want the cloned config's ServerName overridden", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatal("expected the clone to retain the supplied MinVersion")
	}
	if base.ServerName != "placeholder" {
		t.Fatal("expected the original config to be left untouched")
	}
}


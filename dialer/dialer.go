/*
Package dialer is the MX-aware connector that sits above
smtpsession.Session: it resolves a recipient domain's mail exchangers,
dials (optionally straight into TLS), and returns the resulting
transport.Channel for the caller to hand to smtpsession.New.

This is explicitly a collaborator of the core session engine, not part
of it: DNS resolution and TCP/socket plumbing are deliberately out of
scope for the engine itself, which only ever sees a transport.Channel.
Resolution uses github.com/miekg/dns since the standard resolver does
not expose MX records directly. A failed implicit-TLS handshake fails
the dial; there is no fallback to plaintext.
*/
package dialer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/transport"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// DialTimeout bounds both the MX lookup and the TCP dial.
const DialTimeout = 30 * time.Second

// CommonLogger is shared by dialer instances, a package-level logger
// for a cross-cutting concern that isn't tied to any one connection.
var CommonLogger = lalog.Logger{ComponentName: "dialer"}

// NeutralDNSResolverAddrs are public recursive resolvers known to
// answer MX queries without interference, for callers that have no
// resolver of their own to point ResolveMX at.
var NeutralDNSResolverAddrs = []string{
	"1.1.1.1:53",
	"8.8.8.8:53",
	"9.9.9.10:53",
}

// MX is one resolved mail exchanger, ordered by ascending preference.
type MX struct {
	Host       string
	Preference uint16
}

// ResolveMX looks up the MX records for domain using dnsServer (a
// "host:port" resolver address), falling back to a direct A/AAAA
// lookup of domain itself via the standard resolver when no MX record
// exists. domain is first normalized to ASCII with
// golang.org/x/net/idna so that internationalized recipient domains
// (SMTPUTF8) resolve correctly.
func ResolveMX(ctx context.Context, domain, dnsServer string) ([]MX, error) {
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return nil, fmt.Errorf("dialer: cannot convert domain %q to ASCII: %w", domain, err)
	}

	client := &dns.Client{Timeout: DialTimeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(asciiDomain), dns.TypeMX)
	reply, _, err := client.ExchangeContext(ctx, msg, dnsServer)
	if err == nil && reply != nil {
		var mxs []MX
		for _, rr := range reply.Answer {
			if mx, ok := rr.(*dns.MX); ok {
				mxs = append(mxs, MX{Host: strings.TrimSuffix(mx.Mx, "."), Preference: mx.Preference})
			}
		}
		if len(mxs) > 0 {
			sort.Slice(mxs, func(i, j int) bool { return mxs[i].Preference < mxs[j].Preference })
			return mxs, nil
		}
	}
	// No usable MX record: fall back to treating the domain itself as
	// the mail exchanger, same as a direct A/AAAA lookup would find.
	if _, lookupErr := net.DefaultResolver.LookupHost(ctx, asciiDomain); lookupErr != nil {
		return nil, fmt.Errorf("dialer: no MX record and host lookup failed for %q: %w", asciiDomain, lookupErr)
	}
	return []MX{{Host: asciiDomain, Preference: 0}}, nil
}

// Config configures a single connection attempt. It is intentionally
// thin: retry/backoff across attempts belongs to a caller (e.g.
// cmd/smtpsend), not to this collaborator — this package dials once
// and returns.
type Config struct {
	Host string
	Port int
	// TLSConfig is used for an immediate TLS connection (typically
	// port 465) when ImplicitTLS is set; Dial does not keep it for a
	// later STARTTLS upgrade. A nil value produces a client-mode config
	// using the platform default trust store.
	TLSConfig *tls.Config
	// ImplicitTLS dials straight into a TLS handshake (SMTPS) rather
	// than leaving TLS for a later STARTTLS upgrade.
	ImplicitTLS bool
	// ConnectionID, if set, becomes the resulting Channel's ID; it
	// defaults to "host:port". The Channel's logger is identified by
	// the dialed address regardless.
	ConnectionID string
}

// CreateClientTLSConfig builds a client-mode TLS config for Host,
// using the platform default trust store unless trustStore is
// provided.
func CreateClientTLSConfig(host string, trustStore *tls.Config) *tls.Config {
	if trustStore != nil {
		cfg := trustStore.Clone()
		cfg.ServerName = host
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// verifyPeerNotRevoked checks the leaf certificate negotiated in state
// against a stapled (or, failing that, freshly queried) OCSP response,
// and fails the dial outright when the responder affirmatively reports
// it revoked. It is a no-op when the handshake produced no peer
// certificates at all, which should not happen for a client-mode
// handshake that already succeeded.
func verifyPeerNotRevoked(ctx context.Context, state tls.ConnectionState) error {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	var issuer *x509.Certificate
	if len(state.PeerCertificates) > 1 {
		issuer = state.PeerCertificates[1]
	}
	return VerifyOCSPStapled(ctx, leaf, issuer, state.OCSPResponse)
}

// Dial connects to cfg.Host:cfg.Port and returns a ready-to-use
// Channel. The dial and any immediate TLS handshake are wrapped in an
// AWS X-Ray segment named "smtp-dial" so that outbound SMTP connection
// attempts show up in the same trace as any other outbound call this
// process makes. A successful handshake's certificate is checked
// against OCSP before the connection is handed back to the caller.
func Dial(ctx context.Context, cfg Config) (*transport.Channel, error) {
	var channel *transport.Channel
	err := xray.Capture(ctx, "smtp-dial", func(ctx context.Context) error {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		dialer := &net.Dialer{Timeout: DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dialer: failed to connect to %s: %w", addr, err)
		}
		if cfg.ImplicitTLS {
			tlsCfg := cfg.TLSConfig
			if tlsCfg == nil {
				tlsCfg = CreateClientTLSConfig(cfg.Host, nil)
			}
			tlsConn := tls.Client(conn, tlsCfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return fmt.Errorf("dialer: TLS handshake with %s failed: %w", addr, err)
			}
			if err := verifyPeerNotRevoked(ctx, tlsConn.ConnectionState()); err != nil {
				tlsConn.Close()
				return err
			}
			conn = tlsConn
		}
		id := cfg.ConnectionID
		if id == "" {
			id = addr
		}
		channel = transport.New(id, conn, DialTimeout, lalog.Logger{ComponentName: "dialer", ComponentID: []lalog.LoggerIDField{{Key: "Addr", Value: addr}}})
		CommonLogger.Info(id, nil, "connected to %s (implicit TLS: %v)", addr, cfg.ImplicitTLS)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return channel, nil
}

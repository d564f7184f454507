/*
smtpsend is a minimal command-line front end that exercises the
session engine end to end: it resolves the recipient's MX host (unless
-host is given), dials, sends EHLO, optionally upgrades via STARTTLS,
and then submits MAIL/RCPT/DATA for a single message, pipelined when
the server advertises PIPELINING and one command at a time otherwise.

It is a flag-driven bootstrap scaled down to the one thing this
module's core does: deliver one message over one connection, with no
retry and no connection pooling (both are explicit non-goals of the
core; retrying across connections is the caller's job, not this
program's).
*/
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/dialer"
	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/metrics"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/exec"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
	"github.com/prometheus/client_golang/prometheus"
)

var logger = lalog.Logger{ComponentName: "smtpsend"}

func main() {
	host := flag.String("host", "", "literal SMTP server host or IP address; overrides MX resolution when set")
	dnsServer := flag.String("dns-server", dialer.NeutralDNSResolverAddrs[0], "\"host:port\" resolver address used to look up the recipient domain's MX records when -host is not given")
	port := flag.Int("port", 25, "SMTP server port")
	implicitTLS := flag.Bool("implicit-tls", false, "dial directly into TLS (SMTPS) instead of STARTTLS")
	startTLS := flag.Bool("starttls", true, "upgrade to TLS via STARTTLS if the server advertises it")
	from := flag.String("from", "", "envelope sender address")
	to := flag.String("to", "", "comma-separated envelope recipient addresses")
	subject := flag.String("subject", "", "message subject")
	body := flag.String("body", "", "message body text")
	pipeline := flag.Bool("pipeline", true, "pipeline MAIL/RCPT/DATA into one submission when the server advertises PIPELINING")
	timeout := flag.Duration("timeout", 2*time.Minute, "read timeout for each submission's responses")
	flag.Parse()

	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "usage: smtpsend [-host=mx.example.com] -from=alice@example.com -to=bob@example.com -subject=hi -body=hello")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialer.DialTimeout)
	defer cancel()

	sessionMetrics := metrics.NewSessionMetrics("niosmtpclient")
	sessionMetrics.MustRegister(prometheus.DefaultRegisterer)

	recipients := strings.Split(*to, ",")
	if err := deliver(ctx, deliveryParams{
		host:        *host,
		dnsServer:   *dnsServer,
		port:        *port,
		implicitTLS: *implicitTLS,
		startTLS:    *startTLS,
		from:        *from,
		recipients:  recipients,
		subject:     *subject,
		body:        *body,
		pipeline:    *pipeline,
		readTimeout: *timeout,
		metrics:     sessionMetrics,
	}); err != nil {
		log.Fatalf("smtpsend: delivery failed: %v", err)
	}
}

type deliveryParams struct {
	host        string
	dnsServer   string
	port        int
	implicitTLS bool
	startTLS    bool
	from        string
	recipients  []string
	subject     string
	body        string
	pipeline    bool
	readTimeout time.Duration
	metrics     *metrics.SessionMetrics
}

// resolveHost returns the literal host to dial: p.host verbatim if the
// caller gave one, otherwise the highest-preference MX host for the
// first recipient's domain.
func resolveHost(ctx context.Context, p deliveryParams) (string, error) {
	if p.host != "" {
		return p.host, nil
	}
	if len(p.recipients) == 0 {
		return "", fmt.Errorf("smtpsend: no recipient to resolve an MX host from")
	}
	domain := p.recipients[0]
	if idx := strings.LastIndexByte(domain, '@'); idx >= 0 {
		domain = domain[idx+1:]
	}
	mxs, err := dialer.ResolveMX(ctx, strings.TrimSpace(domain), p.dnsServer)
	if err != nil {
		return "", fmt.Errorf("smtpsend: MX lookup for %q failed: %w", domain, err)
	}
	logger.Info(domain, nil, "resolved MX host %s (preference %d)", mxs[0].Host, mxs[0].Preference)
	return mxs[0].Host, nil
}

func deliver(ctx context.Context, p deliveryParams) error {
	host, err := resolveHost(ctx, p)
	if err != nil {
		return err
	}
	p.host = host

	channel, err := dialer.Dial(ctx, dialer.Config{
		Host:        p.host,
		Port:        p.port,
		ImplicitTLS: p.implicitTLS,
	})
	if err != nil {
		return err
	}

	pool := exec.NewPool(2, 16)
	defer pool.Stop()

	sess, err := smtpsession.New(smtpsession.Config{
		ConnectionID: fmt.Sprintf("%s:%d", p.host, p.port),
		ReadTimeout:  p.readTimeout,
	}, channel, pool)
	if err != nil {
		return err
	}
	sess.Metrics = p.metrics
	defer sess.Close()

	ehlo, err := sess.Send(ctx, wire.Command{Verb: wire.VerbEHLO, Args: "localhost"})
	if err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	ehloResp, err := ehlo.Wait(ctx)
	if err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	extensions := parseEHLOExtensions(ehloResp.Lines)
	sess.SetSupportedExtensions(extensions)
	logger.Info(sess.ID(), nil, "server advertised extensions: %v", extensions)

	if p.startTLS && !p.implicitTLS && sess.IsSupported(smtpsession.ExtStartTLS) {
		if err := upgradeToTLS(ctx, sess, channel, p.host); err != nil {
			return err
		}
	}

	message := composeMessage(p.from, p.recipients, p.subject, p.body)
	content := wire.Content{Bytes: message}

	if p.pipeline && sess.IsSupported(smtpsession.ExtPipelining) {
		return deliverPipelined(ctx, sess, content, p.from, p.recipients)
	}
	return deliverSequential(ctx, sess, content, p.from, p.recipients)
}

func deliverPipelined(ctx context.Context, sess *smtpsession.Session, content wire.Content, from string, recipients []string) error {
	cmds := make([]wire.Command, 0, len(recipients)+2)
	cmds = append(cmds, wire.Command{Verb: wire.VerbMAIL, Args: fmt.Sprintf("FROM:<%s>", from)})
	for _, r := range recipients {
		cmds = append(cmds, wire.Command{Verb: wire.VerbRCPT, Args: fmt.Sprintf("TO:<%s>", strings.TrimSpace(r))})
	}
	cmds = append(cmds, wire.Command{Verb: wire.VerbDATA})
	future, err := sess.SendPipelined(ctx, &content, cmds...)
	if err != nil {
		return fmt.Errorf("pipelined submission rejected: %w", err)
	}
	responses, err := future.Wait(ctx)
	if err != nil {
		return fmt.Errorf("pipelined submission failed: %w", err)
	}
	for _, r := range responses {
		if !positive(r.Code) {
			return fmt.Errorf("server rejected submission: %d %s", r.Code, strings.Join(r.Lines, "; "))
		}
	}
	logger.Info(sess.ID(), nil, "delivered message to %v (pipelined)", recipients)
	return nil
}

func deliverSequential(ctx context.Context, sess *smtpsession.Session, content wire.Content, from string, recipients []string) error {
	if err := sendAndCheck(ctx, sess, wire.Command{Verb: wire.VerbMAIL, Args: fmt.Sprintf("FROM:<%s>", from)}); err != nil {
		return err
	}
	for _, r := range recipients {
		if err := sendAndCheck(ctx, sess, wire.Command{Verb: wire.VerbRCPT, Args: fmt.Sprintf("TO:<%s>", strings.TrimSpace(r))}); err != nil {
			return err
		}
	}
	if err := sendAndCheck(ctx, sess, wire.Command{Verb: wire.VerbDATA}); err != nil {
		return err
	}
	future, err := sess.SendContent(ctx, content)
	if err != nil {
		return fmt.Errorf("content submission rejected: %w", err)
	}
	resp, err := future.Wait(ctx)
	if err != nil {
		return fmt.Errorf("content submission failed: %w", err)
	}
	if !positive(resp.Code) {
		return fmt.Errorf("server rejected content: %d %s", resp.Code, strings.Join(resp.Lines, "; "))
	}
	logger.Info(sess.ID(), nil, "delivered message to %v (sequential)", recipients)
	return nil
}

func sendAndCheck(ctx context.Context, sess *smtpsession.Session, cmd wire.Command) error {
	future, err := sess.Send(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s rejected: %w", cmd.Verb, err)
	}
	resp, err := future.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Verb, err)
	}
	if !positive(resp.Code) {
		return fmt.Errorf("server rejected %s: %d %s", cmd.Verb, resp.Code, strings.Join(resp.Lines, "; "))
	}
	return nil
}

func upgradeToTLS(ctx context.Context, sess *smtpsession.Session, channel interface {
	StartTLS(*tls.Config) (tls.ConnectionState, error)
}, host string) error {
	future, err := sess.Send(ctx, wire.Command{Verb: wire.VerbSTARTTLS})
	if err != nil {
		return fmt.Errorf("STARTTLS rejected: %w", err)
	}
	resp, err := future.Wait(ctx)
	if err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}
	if !positive(resp.Code) {
		return fmt.Errorf("server refused STARTTLS: %d %s", resp.Code, strings.Join(resp.Lines, "; "))
	}
	if _, err := channel.StartTLS(dialer.CreateClientTLSConfig(host, nil)); err != nil {
		return err
	}
	// The server requires re-EHLO after a successful STARTTLS, since
	// the protocol state resets to its initial phase.
	ehlo, err := sess.Send(ctx, wire.Command{Verb: wire.VerbEHLO, Args: "localhost"})
	if err != nil {
		return fmt.Errorf("post-STARTTLS EHLO rejected: %w", err)
	}
	ehloResp, err := ehlo.Wait(ctx)
	if err != nil {
		return fmt.Errorf("post-STARTTLS EHLO failed: %w", err)
	}
	sess.SetSupportedExtensions(parseEHLOExtensions(ehloResp.Lines))
	return nil
}

func positive(code int) bool {
	return code >= 200 && code < 400
}

func parseEHLOExtensions(lines []string) map[smtpsession.Extension]struct{} {
	set := make(map[smtpsession.Extension]struct{})
	for i, line := range lines {
		if i == 0 {
			// The first line is the greeting domain, not a capability.
			continue
		}
		if ext, ok := smtpsession.ParseExtensionLine(line); ok {
			set[ext] = struct{}{}
		}
	}
	return set
}

func composeMessage(from string, recipients []string, subject, body string) []byte {
	var b strings.Builder
	w := bufio.NewWriter(&b)
	fmt.Fprintf(w, "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(w, "From: %s\r\n", from)
	fmt.Fprintf(w, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(w, "Subject: %s\r\n\r\n", subject)
	fmt.Fprint(w, body)
	w.Flush()
	return []byte(b.String())
}

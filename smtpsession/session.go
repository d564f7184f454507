/*
Package smtpsession implements the session engine core of an
asynchronous SMTP client: a per-connection state machine that
serializes submissions onto a single channel, tracks the number of
responses each submission expects (including RFC 2920 pipelining),
wraps responses with a back-reference to their session, and
coordinates close/failure propagation.

The public surface is Session (constructed by New) together with its
Send/SendContent/SendPipelined/Close family of methods.
*/
package smtpsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/metrics"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/exec"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/transport"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

// DefaultReadTimeout is the demultiplexer's read timeout applied when
// Config.ReadTimeout is zero.
const DefaultReadTimeout = 2 * time.Minute

// DefaultConnectionID is used in log and error messages when
// Config.ConnectionID is empty.
const DefaultConnectionID = "unidentified-connection"

// Config carries the values consumed once, at session construction.
type Config struct {
	// ConnectionID prefixes every error message and log line produced
	// by this session, e.g. "[mx1.example.com:25]".
	ConnectionID string
	// ReadTimeout bounds how long a single expectation waits for its
	// responses. Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	// KeepAliveTimeout, if non-nil, must not point at a zero duration;
	// the caller omits the field (leaves it nil) to disable keepalive.
	KeepAliveTimeout *time.Duration
}

// Validate applies defaults and rejects a zero, non-nil
// KeepAliveTimeout.
func (c *Config) Validate() error {
	if c.ConnectionID == "" {
		c.ConnectionID = DefaultConnectionID
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.KeepAliveTimeout != nil && *c.KeepAliveTimeout == 0 {
		return newConfigurationError("keepAliveTimeout must not be zero; use Optional.empty() to disable keepalive")
	}
	return nil
}

// ClientResponse is the engine's wrapper around one SmtpResponse: it
// carries a read-only, non-owning back-reference to the Session that
// produced it. Holding a ClientResponse does not prolong the
// session's lifetime beyond the caller's own use of it.
type ClientResponse struct {
	Session *Session
	Code    int
	Lines   []string
}

// Session is one live connection's session engine: the public façade
// for sending commands and content over one channel. A Session owns
// its Channel exclusively.
type Session struct {
	id       string
	channel  *transport.Channel
	demux    *responseDemultiplexer
	executor exec.Executor
	ext      *ExtensionSet

	closeCompletion *exec.Future[struct{}]
	bridge          *inboundHandler

	// Metrics is optional; when set, every submission and expectation
	// outcome is recorded against it. Nil disables instrumentation.
	Metrics *metrics.SessionMetrics
}

// New constructs a Session around channel, installing the bridging
// inbound handler on the channel as part of session construction. executor is where
// every caller-visible completion resolves;
// it must never be the same goroutine as the channel's read pump.
func New(cfg Config, channel *transport.Channel, executor exec.Executor) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:              cfg.ConnectionID,
		channel:         channel,
		demux:           newResponseDemultiplexer(cfg.ConnectionID, cfg.ReadTimeout, lalog.Logger{ComponentName: "smtpsession", ComponentID: []lalog.LoggerIDField{{Key: "ID", Value: cfg.ConnectionID}}}),
		executor:        executor,
		ext:             NewExtensionSet(),
		closeCompletion: exec.NewFuture[struct{}](),
	}
	s.bridge = &inboundHandler{session: s}
	channel.AddInboundHandler(s.bridge)
	return s, nil
}

// ID returns the session's connection identifier.
func (s *Session) ID() string { return s.id }

// SetSupportedExtensions replaces the session's advertised ESMTP
// extension set wholesale, typically called by a higher layer after
// parsing an EHLO response.
func (s *Session) SetSupportedExtensions(extensions map[Extension]struct{}) {
	s.ext.ReplaceWith(extensions)
}

// IsSupported reports whether the server advertised tag.
func (s *Session) IsSupported(tag Extension) bool {
	return s.ext.Contains(tag)
}

// Send submits a single SMTP command and returns a future resolving
// to its one response, wrapped with a back-reference to s. The
// dispatch of the returned future (both success and failure) happens
// on the session's completion executor, never on the channel's read
// pump.
func (s *Session) Send(ctx context.Context, cmd wire.Command) (*exec.Future[ClientResponse], error) {
	done, err := s.demux.Expect(1, cmd.String())
	if err != nil {
		return nil, err
	}
	if writeErr := s.channel.WriteAndFlush(cmd); writeErr != nil {
		s.demux.OnException(writeErr)
		return nil, writeErr
	}
	s.countSubmission()
	return s.mapSingle(done), nil
}

// SendContent submits a pre-encoded content payload as its own
// submission (one response expected). The wire emission is split into
// the content bytes followed by the empty-last-chunk sentinel because
// the codec frames content as a stream terminated by that marker.
func (s *Session) SendContent(ctx context.Context, content wire.Content) (*exec.Future[ClientResponse], error) {
	done, err := s.demux.Expect(1, "<content>")
	if err != nil {
		return nil, err
	}
	if err := s.channel.Write(content); err != nil {
		s.demux.OnException(err)
		return nil, err
	}
	if err := s.channel.Write(wire.EmptyLastChunk{}); err != nil {
		s.demux.OnException(err)
		return nil, err
	}
	if err := s.channel.Flush(); err != nil {
		s.demux.OnException(err)
		return nil, err
	}
	s.countSubmission()
	return s.mapSingle(done), nil
}

// SendPipelined validates and submits a batch of commands — optionally
// preceded by one content payload — as a single pipelined submission
// per RFC 2920. On validation failure, it returns synchronously with
// ErrInvalidArgument and writes nothing to the wire.
func (s *Session) SendPipelined(ctx context.Context, content *wire.Content, cmds ...wire.Command) (*exec.Future[[]ClientResponse], error) {
	if err := ValidatePipeline(cmds); err != nil {
		return nil, err
	}
	expected := len(cmds)
	if content != nil {
		expected++
	}
	done, err := s.demux.Expect(expected, debugDescriptorForCommands(cmds))
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := s.channel.Write(*content); err != nil {
			s.demux.OnException(err)
			return nil, err
		}
		if err := s.channel.Write(wire.EmptyLastChunk{}); err != nil {
			s.demux.OnException(err)
			return nil, err
		}
	}
	for _, cmd := range cmds {
		if err := s.channel.Write(cmd); err != nil {
			s.demux.OnException(err)
			return nil, err
		}
	}
	if err := s.channel.Flush(); err != nil {
		s.demux.OnException(err)
		return nil, err
	}
	s.countSubmission()
	return s.mapMany(done), nil
}

func (s *Session) countSubmission() {
	if s.Metrics != nil {
		s.Metrics.SubmissionsSent.Inc()
	}
}

// classifyFailure maps an expectation error onto the metrics failure
// taxonomy.
func classifyFailure(err error) metrics.FailureKind {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidState):
		return metrics.FailureProgrammerError
	case errors.Is(err, ErrChannelClosed):
		return metrics.FailureChannelClosed
	case errors.Is(err, ErrReadTimeout):
		return metrics.FailureReadTimeout
	default:
		return metrics.FailureTransportError
	}
}

// Close initiates closing the underlying channel. The returned future
// resolves when the channel has finished closing; use CloseCompletion
// to observe that same event from elsewhere without re-initiating a
// close.
func (s *Session) Close() *exec.Future[struct{}] {
	s.channel.Close()
	return s.closeCompletion
}

// CloseCompletion returns the session's close completion, resolved by
// the inbound handler once the channel has become inactive: failed
// with the first observed transport error, if any, or successful
// otherwise.
func (s *Session) CloseCompletion() *exec.Future[struct{}] {
	return s.closeCompletion
}

func (s *Session) mapSingle(done *exec.Future[[]wire.Response]) *exec.Future[ClientResponse] {
	out := exec.NewFuture[ClientResponse]()
	go s.awaitAndDispatch(done, func(responses []wire.Response, err error) {
		if err != nil {
			out.Fail(err)
			return
		}
		r := responses[0]
		out.Resolve(ClientResponse{Session: s, Code: r.Code, Lines: r.Lines})
	})
	return out
}

func (s *Session) mapMany(done *exec.Future[[]wire.Response]) *exec.Future[[]ClientResponse] {
	out := exec.NewFuture[[]ClientResponse]()
	go s.awaitAndDispatch(done, func(responses []wire.Response, err error) {
		if err != nil {
			out.Fail(err)
			return
		}
		wrapped := make([]ClientResponse, len(responses))
		for i, r := range responses {
			wrapped[i] = ClientResponse{Session: s, Code: r.Code, Lines: r.Lines}
		}
		out.Resolve(wrapped)
	})
	return out
}

// awaitAndDispatch waits for the demultiplexer's raw completion (on a
// throwaway goroutine, never the read pump) and then hands the
// user-visible mapping to the session's completion executor, so that
// the mapping function itself — which may be arbitrary caller code in
// a future extension — never runs on the read pump either.
func (s *Session) awaitAndDispatch(done *exec.Future[[]wire.Response], fn func([]wire.Response, error)) {
	start := time.Now()
	responses, err := done.Wait(context.Background())
	if s.Metrics != nil {
		s.Metrics.ResponseLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.Metrics.CountFailure(classifyFailure(err))
		} else {
			s.Metrics.ResponsesReceived.Add(float64(len(responses)))
		}
	}
	s.executor.Submit(func() {
		fn(responses, err)
	})
}

// String implements fmt.Stringer for diagnostics.
func (s *Session) String() string {
	return fmt.Sprintf("smtpsession.Session{ID:%s}", s.id)
}

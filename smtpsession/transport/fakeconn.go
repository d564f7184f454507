package transport

import (
	"net"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
	"github.com/hs-jenkins-bot/niosmtpclient/testingstub"
)

// newPipe returns a pair of connected in-memory net.Conn endpoints (one
// to hand to a Channel under test, one to stand in for the remote SMTP
// server), using net.Pipe since the tests exercise the Channel's own
// framing and lifecycle logic rather than real network behavior.
func newPipe() (clientSide, serverSide net.Conn) {
	return net.Pipe()
}

// writeLine is a shared test helper for this package's _test.go files.
// It takes testingstub.T rather than *testing.T because this file is
// part of the non-test build, which must not pull in the "testing"
// package's init-time flag registration, matching the reason
// testingstub.T exists in the first place.
func writeLine(t testingstub.T, conn net.Conn, line string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("failed to write test fixture line %q: %v", line, err)
	}
}

// recordingHandler is a minimal InboundHandler that records every
// callback invocation for assertions.
type recordingHandler struct {
	responses chan wire.Response
	errs      chan error
	inactive  chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		responses: make(chan wire.Response, 16),
		errs:      make(chan error, 16),
		inactive:  make(chan struct{}, 1),
	}
}

func (h *recordingHandler) HandleResponse(resp wire.Response) { h.responses <- resp }
func (h *recordingHandler) HandleException(err error)         { h.errs <- err }
func (h *recordingHandler) HandleInactive() {
	select {
	case h.inactive <- struct{}{}:
	default:
	}
}

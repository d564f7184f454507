/*
Package transport implements the Channel the session engine treats as
external: a TCP/TLS connection plus a read pump that decodes inbound
SMTP responses and dispatches them to installed handlers, the Go
analogue of a Netty pipeline.

It uses the mutex-guarded state plus dedicated read-goroutine idiom:
one goroutine owns the socket read loop, and every other access to
shared state goes through the mutex.
*/
package transport

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

// InboundHandler receives events decoded off the channel's read pump.
// It is installed with AddInboundHandler and corresponds to the
// ErrorBridge's position at the tail of a channel pipeline.
type InboundHandler interface {
	// HandleResponse is called for every complete SMTP response read.
	HandleResponse(resp wire.Response)
	// HandleException is called once for a terminal read error. Write
	// errors are returned to the caller of Write instead.
	// The channel is closed immediately afterwards.
	HandleException(err error)
	// HandleInactive is called exactly once, after the channel has
	// finished closing (whether cleanly or due to an exception).
	HandleInactive()
}

// Channel wraps one net.Conn (plain or *tls.Conn) and exposes exactly
// the write/flush/close primitives the session engine needs. A Channel
// is owned by a single session; it must not be shared.
type Channel struct {
	ID string

	mutex   sync.Mutex
	conn    net.Conn
	reader  *wire.ResponseReader
	handler InboundHandler

	writeTimeout time.Duration

	closeOnce sync.Once
	closed    bool

	// pumpDone is closed when the current readPump goroutine returns.
	// upgrading is set while StartTLS is waiting for the old pump to
	// exit, so that pump reports the interruption quietly instead of as
	// a transport exception.
	pumpDone  chan struct{}
	upgrading bool

	// Transcript optionally captures the last bytes written/read, for
	// diagnostics. Nil disables capture.
	Transcript *lalog.ByteLogWriter

	logger lalog.Logger
}

// New wraps conn as a Channel identified by id. writeTimeout bounds
// every individual Write/Flush call.
func New(id string, conn net.Conn, writeTimeout time.Duration, logger lalog.Logger) *Channel {
	return &Channel{
		ID:           id,
		conn:         conn,
		reader:       wire.NewResponseReader(conn),
		writeTimeout: writeTimeout,
		logger:       logger,
		pumpDone:     make(chan struct{}),
	}
}

// AddInboundHandler installs the single handler that will receive
// decoded responses and lifecycle events, and starts the read pump.
// It must be called exactly once, before any write.
func (c *Channel) AddInboundHandler(h InboundHandler) {
	c.mutex.Lock()
	c.handler = h
	c.mutex.Unlock()
	go c.readPump()
}

func (c *Channel) readPump() {
	c.mutex.Lock()
	done := c.pumpDone
	c.mutex.Unlock()
	defer close(done)

	var pumpErr error
	for {
		resp, err := c.reader.ReadResponse()
		if err != nil {
			pumpErr = err
			break
		}
		c.mutex.Lock()
		h := c.handler
		c.mutex.Unlock()
		if h != nil {
			h.HandleResponse(resp)
		}
	}
	c.mutex.Lock()
	h := c.handler
	upgrading := c.upgrading
	c.mutex.Unlock()
	if upgrading {
		// StartTLS deliberately interrupted this pump (forced the read
		// to fail) so it can take over the connection for the
		// handshake; it is waiting on pumpDone and will start a fresh
		// pump once the handshake completes. Neither HandleException
		// nor HandleInactive applies here.
		return
	}
	// A clean EOF (the peer closed its side) and a read error observed
	// after our own Close() was already called (the caller closed its
	// side) both mean the connection ended on purpose, not a transport
	// exception: exceptionCaught only fires for a genuine I/O error
	// seen while the connection was still expected to be live.
	if pumpErr != nil && pumpErr != io.EOF && !c.Closed() {
		c.logger.Warning(c.ID, pumpErr, "read pump terminating on a transport exception")
		if h != nil {
			h.HandleException(pumpErr)
		}
	} else {
		c.logger.Info(c.ID, nil, "read pump terminating, peer closed or channel closing")
	}
	c.Close()
	if h != nil {
		h.HandleInactive()
	}
}

func (c *Channel) write(b []byte) error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()
	if conn == nil {
		return fmt.Errorf("[%s] channel is closed", c.ID)
	}
	if c.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := conn.Write(b)
	if c.Transcript != nil {
		c.Transcript.Write(b)
	}
	return err
}

// Write sends a frame (a command, content bytes, or the empty-last-chunk
// sentinel) without flushing. net.Conn has no OS-level buffering of its
// own to flush, so Write and Flush both write straight through; the
// split exists to leave room for a buffered implementation later
// without changing callers.
func (c *Channel) Write(frame wire.Frame) error {
	return c.write(frame.Encode())
}

// WriteAndFlush writes frame and flushes in one step.
func (c *Channel) WriteAndFlush(frame wire.Frame) error {
	return c.Write(frame)
}

// Flush is a no-op over net.Conn (see Write's doc comment) kept to
// satisfy the Channel contract's write/flush separation.
func (c *Channel) Flush() error {
	return nil
}

// StartTLS upgrades the underlying connection to TLS in place using
// cfg, matching the STARTTLS requirement that the client re-EHLO on a
// fresh protocol state after a successful handshake. The read pump is
// restarted against the new connection.
func (c *Channel) StartTLS(cfg *tls.Config) (tls.ConnectionState, error) {
	c.mutex.Lock()
	plain := c.conn
	oldDone := c.pumpDone
	c.upgrading = true
	c.mutex.Unlock()

	// The old pump goroutine may be blocked inside a Read on plain right
	// now; it must stop touching the connection before the handshake
	// starts reading and writing the same bytes. An already-past
	// deadline makes any in-flight or future Read fail immediately, and
	// the pump (seeing c.upgrading) exits quietly on that error.
	plain.SetReadDeadline(time.Unix(0, 1))
	<-oldDone
	plain.SetReadDeadline(time.Time{})

	tlsConn := tls.Client(plain, cfg)
	if err := tlsConn.Handshake(); err != nil {
		c.mutex.Lock()
		c.pumpDone = make(chan struct{})
		c.upgrading = false
		c.mutex.Unlock()
		// The handshake left the plaintext connection's framing in an
		// unknown state, but a pump must still be running so Close and
		// any subsequent read error are observed; restart it against
		// the unchanged plain conn/reader.
		go c.readPump()
		return tls.ConnectionState{}, fmt.Errorf("[%s] STARTTLS handshake failed: %w", c.ID, err)
	}
	c.mutex.Lock()
	c.conn = tlsConn
	c.reader = wire.NewResponseReader(tlsConn)
	c.pumpDone = make(chan struct{})
	c.upgrading = false
	c.mutex.Unlock()
	state := tlsConn.ConnectionState()
	c.logger.Info(c.ID, nil, "STARTTLS handshake complete, negotiated version %#x", state.Version)
	go c.readPump()
	return state, nil
}

// Close closes the underlying connection. It is safe to call multiple
// times and from multiple goroutines; only the first call has effect.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		conn := c.conn
		c.closed = true
		c.mutex.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

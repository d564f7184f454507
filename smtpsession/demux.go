package smtpsession

import (
	"sync"
	"time"

	"github.com/hs-jenkins-bot/niosmtpclient/lalog"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/exec"
	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

// pendingExpectation is the demultiplexer's single outstanding slot: a
// reservation for exactly N responses, accumulated in arrival order.
type pendingExpectation struct {
	n         int
	responses []wire.Response
	debug     string
	deadline  time.Time
	done      *exec.Future[[]wire.Response]
	timer     *time.Timer
}

// responseDemultiplexer holds at most one outstanding multi-response
// expectation at a time, accumulates inbound responses for it, and
// resolves it on completion, exception, channel close, or timeout.
// All exported methods are intended to be called only from the
// channel's single read-pump goroutine (or, for Expect, from whichever
// goroutine the session engine itself runs on). The pending slot is
// still mutex-guarded because the read-timeout timer fires on its own
// goroutine.
type responseDemultiplexer struct {
	id          string
	readTimeout time.Duration
	logger      lalog.Logger

	mutex   sync.Mutex
	pending *pendingExpectation
}

func newResponseDemultiplexer(id string, readTimeout time.Duration, logger lalog.Logger) *responseDemultiplexer {
	return &responseDemultiplexer{id: id, readTimeout: readTimeout, logger: logger}
}

// Expect reserves the demultiplexer for n upcoming responses. If an
// expectation is already pending, it fails synchronously with
// ErrInvalidState and leaves the existing expectation untouched.
func (d *responseDemultiplexer) Expect(n int, debugDescriptor string) (*exec.Future[[]wire.Response], error) {
	if n < 1 {
		return nil, newInvalidArgument("expected response count must be at least 1, got %d", n)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.pending != nil {
		return nil, newInvalidState("[%s] Cannot wait for a response to [%s] because we're still waiting for a response to [%s]",
			d.id, debugDescriptor, d.pending.debug)
	}
	pe := &pendingExpectation{
		n:        n,
		debug:    debugDescriptor,
		deadline: time.Now().Add(d.readTimeout),
		done:     exec.NewFuture[[]wire.Response](),
	}
	d.pending = pe
	pe.timer = time.AfterFunc(d.readTimeout, func() { d.onTimeout(pe) })
	return pe.done, nil
}

// OnResponse is called by the channel's inbound handler for every
// decoded SMTP response. If nothing is pending, the response is
// discarded (logged at info level); correlation is impossible without
// an outstanding expectation.
func (d *responseDemultiplexer) OnResponse(resp wire.Response) {
	d.mutex.Lock()
	pe := d.pending
	if pe == nil {
		d.mutex.Unlock()
		d.logger.Info(d.id, nil, "discarding unsolicited response %v with no pending expectation", resp)
		return
	}
	pe.responses = append(pe.responses, resp)
	complete := len(pe.responses) == pe.n
	if complete {
		d.pending = nil
	}
	d.mutex.Unlock()
	if complete {
		pe.timer.Stop()
		pe.done.Resolve(pe.responses)
	}
}

// OnNonResponseRead is called for inbound events that are not SMTP
// responses (e.g. TLS handshake completion). These never affect a
// pending expectation.
func (d *responseDemultiplexer) OnNonResponseRead(description string) {
	d.logger.Info(d.id, nil, "ignoring non-response event: %s", description)
}

// OnException fails any pending expectation with err and clears it.
func (d *responseDemultiplexer) OnException(err error) {
	pe := d.clearPending()
	if pe != nil {
		pe.timer.Stop()
		pe.done.Fail(err)
	}
}

// OnChannelInactive fails any pending expectation with ErrChannelClosed
// and clears it.
func (d *responseDemultiplexer) OnChannelInactive() {
	pe := d.clearPending()
	if pe != nil {
		pe.timer.Stop()
		pe.done.Fail(newChannelClosed("[%s] Handled channelInactive while waiting for a response to [%s]", d.id, pe.debug))
	}
}

func (d *responseDemultiplexer) onTimeout(target *pendingExpectation) {
	d.mutex.Lock()
	if d.pending != target {
		d.mutex.Unlock()
		return
	}
	d.pending = nil
	d.mutex.Unlock()
	target.done.Fail(newReadTimeout("[%s] timed out waiting for a response to [%s]", d.id, target.debug))
}

func (d *responseDemultiplexer) clearPending() *pendingExpectation {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	pe := d.pending
	d.pending = nil
	return pe
}

// IsPending reports whether an expectation is currently outstanding.
func (d *responseDemultiplexer) IsPending() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.pending != nil
}

// debugDescriptorForCommands renders a short identifier for a
// pipelined submission used only in error messages, matching the
// PendingExpectation "debug descriptor" attribute.
func debugDescriptorForCommands(cmds []wire.Command) string {
	if len(cmds) == 0 {
		return "<content>"
	}
	if len(cmds) == 1 {
		return string(cmds[0].Verb)
	}
	s := ""
	for i, c := range cmds {
		if i > 0 {
			s += ","
		}
		s += string(c.Verb)
	}
	return s
}

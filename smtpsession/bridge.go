package smtpsession

import "github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"

// inboundHandler bridges the channel's three lifecycle callbacks into
// the session: the channel's sole inbound handler, installed once per
// session at construction. It
// translates the channel's three lifecycle callbacks into
// demultiplexer and session-close signals.
//
// State machine: Live -> Closing (Close() called, or HandleException
// observed) -> Closed (HandleInactive observed). The close completion
// resolves exactly once, at the -> Closed transition.
type inboundHandler struct {
	session *Session

	terminalErr error
}

// HandleResponse forwards a decoded SMTP response to the
// demultiplexer for correlation with the outstanding expectation, if
// any.
func (h *inboundHandler) HandleResponse(resp wire.Response) {
	h.session.demux.OnResponse(resp)
}

// HandleException records err as the session's terminal error (first
// one wins) and fails any pending expectation with it. The channel is
// closed by the transport layer itself after invoking this callback;
// the error is not swallowed here, only recorded for CloseCompletion.
func (h *inboundHandler) HandleException(err error) {
	if err == nil {
		return
	}
	if h.terminalErr == nil {
		h.terminalErr = err
	}
	h.session.demux.OnException(err)
}

// HandleInactive resolves the session's close completion: failed with
// the recorded terminal error if one was observed before inactivation,
// successful otherwise. It also fails any still-pending expectation
// with ErrChannelClosed (covers the case where the channel closed
// without ever reporting an exception, e.g. a clean peer close).
func (h *inboundHandler) HandleInactive() {
	h.session.demux.OnChannelInactive()
	if h.terminalErr != nil {
		h.session.closeCompletion.Fail(h.terminalErr)
		return
	}
	h.session.closeCompletion.Resolve(struct{}{})
}

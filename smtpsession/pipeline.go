package smtpsession

import (
	"fmt"

	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

// ErrInvalidArgument is the sentinel behind every pipeline validation
// failure; use errors.Is(err, ErrInvalidArgument) to test for it.
var ErrInvalidArgument = &invalidArgumentError{}

type invalidArgumentError struct {
	msg string
}

func (e *invalidArgumentError) Error() string { return e.msg }

// Is makes every *invalidArgumentError match the ErrInvalidArgument
// sentinel regardless of its specific message, per errors.Is semantics.
func (e *invalidArgumentError) Is(target error) bool {
	_, ok := target.(*invalidArgumentError)
	return ok
}

func newInvalidArgument(format string, args ...interface{}) error {
	return &invalidArgumentError{msg: fmt.Sprintf(format, args...)}
}

// ValidatePipeline is PipelineValidator: a pure, stateless function
// that accepts or rejects an ordered, non-empty list of commands meant
// to be submitted as a single pipelined batch. It never mutates its
// input and reports the first rule violation it finds.
//
// Rules, checked in order:
//  1. HELO cannot appear in a pipelined request.
//  2. HELP cannot appear in a pipelined request.
//  3. DATA, EHLO, and NOOP must each occupy the last position if
//     present, because they change session phase.
//  4. A single-command list is always accepted.
func ValidatePipeline(cmds []wire.Command) error {
	if len(cmds) == 0 {
		return newInvalidArgument("pipelined request must contain at least one command")
	}
	if len(cmds) == 1 {
		return nil
	}
	for _, c := range cmds {
		if c.Verb == wire.VerbHELO {
			return newInvalidArgument("HELO cannot be used in a pipelined request")
		}
		if c.Verb == wire.VerbHELP {
			return newInvalidArgument("HELP cannot be used in a pipelined request")
		}
	}
	last := len(cmds) - 1
	for i, c := range cmds {
		if i == last {
			continue
		}
		switch c.Verb {
		case wire.VerbDATA, wire.VerbEHLO, wire.VerbNOOP:
			return newInvalidArgument("%s must appear last in a pipelined request", c.Verb)
		}
	}
	return nil
}

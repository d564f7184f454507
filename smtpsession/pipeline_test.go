package smtpsession

import (
	"errors"
	"testing"

	"github.com/hs-jenkins-bot/niosmtpclient/smtpsession/wire"
)

func cmd(verb wire.Verb) wire.Command { return wire.Command{Verb: verb} }

func TestValidatePipeline_Empty(t *testing.T) {
	if err := ValidatePipeline(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_SingleCommandAlwaysOK(t *testing.T) {
	for _, v := range []wire.Verb{wire.VerbHELO, wire.VerbHELP, wire.VerbDATA, wire.VerbEHLO, wire.VerbNOOP} {
		if err := ValidatePipeline([]wire.Command{cmd(v)}); err != nil {
			t.Fatalf("single command %s should always validate, got %v", v, err)
		}
	}
}

func TestValidatePipeline_HELOForbidden(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbHELO), cmd(wire.VerbMAIL)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_HELPForbidden(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbMAIL), cmd(wire.VerbHELP)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_DataMustBeLast(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbDATA), cmd(wire.VerbMAIL)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_DataLastIsOK(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbMAIL), cmd(wire.VerbRCPT), cmd(wire.VerbDATA)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePipeline_EHLOMustBeLast(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbEHLO), cmd(wire.VerbMAIL)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_NOOPMustBeLast(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbNOOP), cmd(wire.VerbMAIL)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestValidatePipeline_MAILRCPTCombination(t *testing.T) {
	err := ValidatePipeline([]wire.Command{cmd(wire.VerbMAIL), cmd(wire.VerbRCPT), cmd(wire.VerbRCPT)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

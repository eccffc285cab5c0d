package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/streampay/backend/internal/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Transaction simulation failed: This transaction has already been processed", ErrAlreadyProcessed},
		{"Transaction simulation failed: Blockhash not found", ErrBlockhashExpired},
		{"block height exceeded", ErrBlockhashExpired},
		{`{"InstructionError":[0,{"Custom":1}]}`, ErrProgramFailed},
		{"Error processing Instruction 0: custom program error: 0x1", ErrProgramFailed},
		{"Post \"https://rpc\": dial tcp: connection refused", ErrRPCUnavailable},
		{"429 Too Many Requests", ErrRPCUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(errors.New(tt.msg))
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyLeavesUnknownAndClassifiedErrors(t *testing.T) {
	unknown := errors.New("something odd")
	if got := Classify(unknown); got != unknown {
		t.Errorf("unknown error was rewrapped: %v", got)
	}

	already := fmt.Errorf("%w: sig 123", ErrConfirmTimeout)
	if got := Classify(already); got != already {
		t.Errorf("classified error was rewrapped: %v", got)
	}
}

func TestToAppErrorReasons(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{errors.New("This transaction has already been processed"), apperr.ReasonAlreadyProcessed},
		{errors.New("Blockhash not found"), apperr.ReasonBlockhashExpired},
		{errors.New("custom program error: 0x1"), apperr.ReasonProgramError},
		{ErrConfirmTimeout, apperr.ReasonConfirmTimeout},
		{errors.New("connection reset by peer"), apperr.ReasonRPCUnavailable},
	}

	for _, tt := range tests {
		err := ToAppError(tt.err, "submit transfer")
		if apperr.KindOf(err) != apperr.KindChainSubmission {
			t.Errorf("%v: kind = %s", tt.err, apperr.KindOf(err))
		}
		if got := apperr.ReasonOf(err); got != tt.reason {
			t.Errorf("%v: reason = %q, want %q", tt.err, got, tt.reason)
		}
	}
}

func TestToAppErrorPassesThroughKindedErrors(t *testing.T) {
	in := apperr.New(apperr.KindValidation, "invalid owner address")
	if got := ToAppError(in, "x"); apperr.KindOf(got) != apperr.KindValidation {
		t.Errorf("kind changed to %s", apperr.KindOf(got))
	}
	if ToAppError(nil, "x") != nil {
		t.Error("nil must stay nil")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("503 Service Unavailable")) {
		t.Error("503 should be transient")
	}
	if IsTransient(errors.New("Blockhash not found")) {
		t.Error("expired blockhash is not transient")
	}
}

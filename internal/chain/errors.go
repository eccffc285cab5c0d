package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/streampay/backend/internal/apperr"
)

var (
	ErrAlreadyProcessed = errors.New("transaction already processed")
	ErrBlockhashExpired = errors.New("transaction blockhash expired")
	ErrProgramFailed    = errors.New("on-chain program error")
	ErrConfirmTimeout   = errors.New("transaction confirmation timed out")
	ErrRPCUnavailable   = errors.New("rpc unavailable")
)

var classifiers = []struct {
	target  error
	needles []string
}{
	{ErrAlreadyProcessed, []string{"already been processed", "alreadyprocessed"}},
	{ErrBlockhashExpired, []string{"blockhash not found", "blockhashnotfound", "block height exceeded", "blockheightexceeded"}},
	{ErrProgramFailed, []string{"custom program error", "instructionerror", "insufficient funds", "owner does not match", "program failed"}},
	{ErrRPCUnavailable, []string{"timeout", "connection refused", "connection reset", "eof", "429", "too many requests", "502", "503", "504", "no such host"}},
}

// Classify wraps a raw RPC error with the sentinel that decides remediation.
// Errors already classified, and unknown errors, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classifiers {
		if errors.Is(err, c.target) {
			return err
		}
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		for _, n := range c.needles {
			if strings.Contains(msg, n) {
				return fmt.Errorf("%w: %v", c.target, err)
			}
		}
	}
	return err
}

// IsTransient reports whether a read may be retried.
func IsTransient(err error) bool {
	return errors.Is(Classify(err), ErrRPCUnavailable)
}

// ToAppError maps a chain failure to a chain_submission error with a reason.
// Errors that already carry a kind pass through.
func ToAppError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	err = Classify(err)
	var reason string
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		reason = apperr.ReasonAlreadyProcessed
	case errors.Is(err, ErrBlockhashExpired):
		reason = apperr.ReasonBlockhashExpired
	case errors.Is(err, ErrProgramFailed):
		reason = apperr.ReasonProgramError
	case errors.Is(err, ErrConfirmTimeout):
		reason = apperr.ReasonConfirmTimeout
	case errors.Is(err, ErrRPCUnavailable):
		reason = apperr.ReasonRPCUnavailable
	}
	return apperr.Wrap(apperr.KindChainSubmission, err, msg).WithReason(reason)
}

// Package apperr defines the error kinds shared by the session ledger, the
// payment orchestrator and the HTTP boundary. Every failure surfaced to a
// caller carries a Kind so the boundary can match exhaustively instead of
// inspecting messages.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation                 Kind = "validation"
	KindNotFound                   Kind = "not_found"
	KindInsufficientBalance        Kind = "insufficient_balance"
	KindApprovalExceedsBalance     Kind = "approval_exceeds_balance"
	KindNoActiveSession            Kind = "no_active_session"
	KindInsufficientSessionBalance Kind = "insufficient_session_balance"
	KindSessionExpired             Kind = "session_expired"
	KindInvalidWithdrawAmount      Kind = "invalid_withdraw_amount"
	KindIntegrity                  Kind = "integrity"
	KindChainSubmission            Kind = "chain_submission"
	KindLedgerDrift                Kind = "ledger_drift"
	KindConflict                   Kind = "conflict"
	KindUnauthorized               Kind = "unauthorized"
	KindInternal                   Kind = "internal"
)

// Reasons refine a kind where the remediation differs.
const (
	ReasonVideo          = "video"
	ReasonVideoConfig    = "video_config"
	ReasonPendingSession = "pending_session"
	ReasonSession        = "session"

	ReasonAlreadyProcessed = "already_processed"
	ReasonBlockhashExpired = "blockhash_expired"
	ReasonProgramError     = "program_error"
	ReasonConfirmTimeout   = "confirm_timeout"
	ReasonRPCUnavailable   = "rpc_unavailable"
)

// Sentinels for errors.Is. They match on kind only.
var (
	ErrValidation                 = &Error{Kind: KindValidation}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrInsufficientBalance        = &Error{Kind: KindInsufficientBalance}
	ErrApprovalExceedsBalance     = &Error{Kind: KindApprovalExceedsBalance}
	ErrNoActiveSession            = &Error{Kind: KindNoActiveSession}
	ErrInsufficientSessionBalance = &Error{Kind: KindInsufficientSessionBalance}
	ErrSessionExpired             = &Error{Kind: KindSessionExpired}
	ErrInvalidWithdrawAmount      = &Error{Kind: KindInvalidWithdrawAmount}
	ErrIntegrity                  = &Error{Kind: KindIntegrity}
	ErrChainSubmission            = &Error{Kind: KindChainSubmission}
	ErrLedgerDrift                = &Error{Kind: KindLedgerDrift}
	ErrConflict                   = &Error{Kind: KindConflict}
	ErrUnauthorized               = &Error{Kind: KindUnauthorized}
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func ReasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

func DetailsOf(err error) map[string]any {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}

// Action names the user step that resolves an expected business outcome:
// "deposit" when a session must be created, "top_up" when the existing one
// is too small. Empty for genuine failures.
func Action(err error) string {
	switch KindOf(err) {
	case KindNoActiveSession, KindSessionExpired:
		return "deposit"
	case KindInsufficientSessionBalance:
		return "top_up"
	default:
		return ""
	}
}

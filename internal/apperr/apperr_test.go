package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(KindNoActiveSession, "no session"), KindNoActiveSession},
		{"wrapped by fmt", fmt.Errorf("unlock: %w", New(KindSessionExpired, "expired")), KindSessionExpired},
		{"plain error", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("confirm: %w", New(KindChainSubmission, "blockhash expired").WithReason(ReasonBlockhashExpired))

	if !errors.Is(err, ErrChainSubmission) {
		t.Error("expected kind sentinel to match")
	}
	if !errors.Is(err, &Error{Kind: KindChainSubmission, Reason: ReasonBlockhashExpired}) {
		t.Error("expected kind+reason to match")
	}
	if errors.Is(err, &Error{Kind: KindChainSubmission, Reason: ReasonProgramError}) {
		t.Error("different reason must not match")
	}
	if errors.Is(err, ErrIntegrity) {
		t.Error("different kind must not match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := Wrap(KindIntegrity, cause, "decrypt delegate key")

	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	if err.Error() != "decrypt delegate key: tag mismatch" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAction(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New(KindNoActiveSession, ""), "deposit"},
		{New(KindSessionExpired, ""), "deposit"},
		{New(KindInsufficientSessionBalance, ""), "top_up"},
		{New(KindValidation, ""), ""},
		{errors.New("x"), ""},
	}

	for _, tt := range tests {
		if got := Action(tt.err); got != tt.want {
			t.Errorf("Action(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

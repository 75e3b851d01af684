package session

import (
	"errors"
	"fmt"

	"github.com/forest6511/cyfer/pkg/bridge"
)

// Kind classifies a failed intent.
type Kind int

const (
	// KindValidation is a local precondition failure. No bridge call was made.
	KindValidation Kind = iota + 1
	// KindInvalidCredential is the engine's explicit wrong-password answer.
	KindInvalidCredential
	// KindBackend is a bridge call that failed or returned an engine fault.
	KindBackend
	// KindBusy is an intent rejected because another is in flight.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindBackend:
		return "backend"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Validation rules, in the order they are checked per intent.
const (
	RuleEmpty          = "empty"
	RuleMismatch       = "mismatch"
	RuleTooShort       = "too-short"
	RuleTooLong        = "too-long"
	RuleService        = "service"
	RuleUsername       = "username"
	RuleSecret         = "secret"
	RuleDuplicate      = "duplicate"
	RuleUnknownService = "unknown-service"
	RuleLocked         = "locked"
	RuleUnlocked       = "unlocked"
	RuleSessionChanged = "session-changed"
)

// Error is returned by every failed intent and kept as the view's last error.
type Error struct {
	Kind   Kind
	Intent string
	// Rule names the violated precondition for KindValidation.
	Rule string
	// Code is the bridge failure code for KindBackend.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("session: %s: %s: %s", e.Intent, e.Rule, e.Message)
	case KindBackend:
		return fmt.Sprintf("session: %s: backend %s: %s", e.Intent, e.Code, e.Message)
	default:
		return fmt.Sprintf("session: %s: %s", e.Intent, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a session *Error of kind k.
func IsKind(err error, k Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}

// RuleOf returns the validation rule carried by err, or "".
func RuleOf(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Kind == KindValidation {
		return se.Rule
	}
	return ""
}

func validationError(intent, rule, msg string) *Error {
	return &Error{Kind: KindValidation, Intent: intent, Rule: rule, Message: msg}
}

func busyError(intent, pending string) *Error {
	return &Error{Kind: KindBusy, Intent: intent, Message: fmt.Sprintf("%s is still in progress", pending)}
}

func invalidCredentialError(intent string) *Error {
	return &Error{Kind: KindInvalidCredential, Intent: intent, Message: "incorrect master password"}
}

func staleError(intent string) *Error {
	return validationError(intent, RuleSessionChanged, "the session was locked while the request was in flight")
}

func backendError(intent string, err error) *Error {
	return &Error{
		Kind:    KindBackend,
		Intent:  intent,
		Code:    bridge.CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

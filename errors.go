package broker

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeBehaviorNotFound     = "BEHAVIOR_NOT_FOUND"
	textCodeInvalidWebChannel    = "INVALID_WEB_CHANNEL"
	textCodeChannelTimeout       = "CHANNEL_TIMEOUT"
	textCodeRoleViolation        = "PAIRING_ROLE_VIOLATION"
	textCodeInvalidTransition    = "INVALID_PAIRING_TRANSITION"
	textCodeTerminalPairingState = "TERMINAL_PAIRING_STATE"
	textCodeMissingAccountUID    = "MISSING_ACCOUNT_UID"
)

// ErrBehaviorNotFound is returned by GetBehavior for an unregistered name.
// It indicates a caller defect, not a recoverable condition.
var ErrBehaviorNotFound = goerrors.New("behavior not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeBehaviorNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidWebChannel classifies channel failures where the host does not
// understand the request at all. Brokers recover from it by disabling the
// corresponding capability instead of surfacing it to the caller.
var ErrInvalidWebChannel = goerrors.New("invalid web channel", goerrors.CategoryOperation).
	WithTextCode(textCodeInvalidWebChannel).
	WithCode(goerrors.CodeBadRequest)

// ErrChannelTimeout is returned when a correlated channel request receives
// no response within the configured window.
var ErrChannelTimeout = goerrors.New("channel request timed out", goerrors.CategoryOperation).
	WithTextCode(textCodeChannelTimeout).
	WithCode(goerrors.CodeInternal)

// ErrRoleViolation is returned when an operation reserved for one pairing
// endpoint is invoked on the other (e.g. scoped-key provisioning on the
// authority). Fail fast: it indicates a caller defect.
var ErrRoleViolation = goerrors.New("operation not allowed for this pairing role", goerrors.CategoryConflict).
	WithTextCode(textCodeRoleViolation).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a pairing event is not legal in the
// machine's current state.
var ErrInvalidTransition = goerrors.New("invalid pairing state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalPairingState is returned when an event reaches a machine that
// already settled in declined, error, or complete.
var ErrTerminalPairingState = goerrors.New("pairing state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalPairingState).
	WithCode(goerrors.CodeConflict)

// ErrMissingAccountUID is returned by persistence hooks when the account
// carries no uid.
var ErrMissingAccountUID = goerrors.New("account has no uid", goerrors.CategoryBadInput).
	WithTextCode(textCodeMissingAccountUID).
	WithCode(goerrors.CodeBadRequest)

// IsInvalidWebChannelError reports whether err is classified as an
// invalid-web-channel failure, i.e. the host cannot service the command.
func IsInvalidWebChannelError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidWebChannel)
}

// detail returns a copy of sentinel carrying meta. The sentinel itself is
// never mutated; errors.Is still matches it through Source.
func detail(sentinel *goerrors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}

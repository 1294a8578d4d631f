package broker

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Channel is the bidirectional messaging interface to the host environment.
// Request expects a correlated response; Send is a one-way notification.
type Channel interface {
	Request(ctx context.Context, command string, data map[string]any) (map[string]any, error)
	Send(ctx context.Context, command string, data map[string]any) error
	IsStatusSupported() bool
}

// Notifier is the in-process publish/subscribe side channel brokers use to
// talk to views without holding references to them. On returns an
// unsubscribe function.
type Notifier interface {
	On(event string, fn func(payload map[string]any)) func()
	Trigger(event string, payload map[string]any)
}

// VerificationStore persists verification info records keyed by
// (namespace, uid). Load returns a nil map, not an error, when no record
// exists for the key.
type VerificationStore interface {
	Load(ctx context.Context, namespace, uid string) (map[string]any, error)
	Save(ctx context.Context, namespace, uid string, info map[string]any) error
	Remove(ctx context.Context, namespace, uid string) error
}

// Account is the opaque account model passed into every hook. Brokers read
// specific fields and never own its lifecycle.
type Account struct {
	UID              string         `json:"uid,omitempty"`
	Email            string         `json:"email,omitempty"`
	SessionToken     string         `json:"sessionToken,omitempty"`
	VerificationCode string         `json:"verificationCode,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// Broker is the lifecycle contract every authentication broker satisfies.
// Fetch must complete before any other hook result is considered valid.
type Broker interface {
	Fetch(ctx context.Context) error

	HasCapability(name string) bool
	GetCapability(name string) any
	SetCapability(name string, value any)
	UnsetCapability(name string)

	GetBehavior(name string) (Behavior, error)
	SetBehavior(name string, b Behavior)

	BeforeSignIn(ctx context.Context, account *Account) (Behavior, error)
	AfterSignIn(ctx context.Context, account *Account) (Behavior, error)
	AfterSignInConfirmationPoll(ctx context.Context, account *Account) (Behavior, error)
	BeforeSignUp(ctx context.Context, account *Account) (Behavior, error)
	AfterSignUp(ctx context.Context, account *Account) (Behavior, error)
	BeforeSignUpConfirmationPoll(ctx context.Context, account *Account) (Behavior, error)
	AfterSignUpConfirmationPoll(ctx context.Context, account *Account) (Behavior, error)
	AfterCompleteSignUp(ctx context.Context, account *Account) (Behavior, error)
	BeforeForceAuth(ctx context.Context, account *Account) (Behavior, error)
	AfterForceAuth(ctx context.Context, account *Account) (Behavior, error)
	AfterResetPasswordConfirmationPoll(ctx context.Context, account *Account) (Behavior, error)
	AfterCompleteResetPassword(ctx context.Context, account *Account) (Behavior, error)
	AfterChangePassword(ctx context.Context, account *Account) (Behavior, error)
	AfterDeleteAccount(ctx context.Context, account *Account) (Behavior, error)
	AfterLoaded(ctx context.Context) (Behavior, error)

	PersistVerificationData(ctx context.Context, account *Account) error
	UnpersistVerificationData(ctx context.Context, account *Account) error

	IsForceAuth() bool
	IsAutomatedBrowser() bool
	TransformLink(link string) string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] BROKER "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] BROKER "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] BROKER "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] BROKER "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

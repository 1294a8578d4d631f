package broker

import (
	"context"
	"net/url"
)

// Operation names key the per-broker behavior map. Every lifecycle hook
// resolves the behavior registered under its operation.
const (
	OpBeforeSignIn                       = "before-sign-in"
	OpAfterSignIn                        = "after-sign-in"
	OpAfterSignInConfirmationPoll        = "after-sign-in-confirmation-poll"
	OpBeforeSignUp                       = "before-sign-up"
	OpAfterSignUp                        = "after-sign-up"
	OpBeforeSignUpConfirmationPoll       = "before-sign-up-confirmation-poll"
	OpAfterSignUpConfirmationPoll        = "after-sign-up-confirmation-poll"
	OpAfterCompleteSignUp                = "after-complete-sign-up"
	OpBeforeForceAuth                    = "before-force-auth"
	OpAfterForceAuth                     = "after-force-auth"
	OpAfterResetPasswordConfirmationPoll = "after-reset-password-confirmation-poll"
	OpAfterCompleteResetPassword         = "after-complete-reset-password"
	OpAfterChangePassword                = "after-change-password"
	OpAfterDeleteAccount                 = "after-delete-account"
	OpAfterLoaded                        = "after-loaded"
)

// Navigation endpoints used by the default behaviors.
const (
	EndpointSignInConfirmed = "signin_confirmed"
	EndpointSignUpConfirmed = "signup_confirmed"
)

// CommandStatus is the host status query issued by Fetch.
const CommandStatus = "fxaccounts:fxa_status"

// verificationNamespace keys every verification record written by a broker.
const verificationNamespace = "context"

const forceAuthPath = "/force_auth"

// BaseBroker implements the generic lifecycle contract. Specialized brokers
// compose it and override individual hooks.
type BaseBroker struct {
	relier   *Relier
	channel  Channel
	notifier Notifier
	store    VerificationStore
	logger   Logger

	caps      *Capabilities
	behaviors map[string]Behavior

	pageURL *url.URL
	fetched bool

	forceAuth        bool
	automatedBrowser bool

	browserSignedInAccount *Account

	// invoked once per view-shown notification; defaults to AfterLoaded
	afterLoadedFn func(ctx context.Context) (Behavior, error)
}

var _ Broker = (*BaseBroker)(nil)

// Option customizes broker construction.
type Option func(*BaseBroker)

// WithLogger overrides the default stdout logger.
func WithLogger(logger Logger) Option {
	return func(b *BaseBroker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCapability seeds or overrides a capability at construction.
func WithCapability(name string, value any) Option {
	return func(b *BaseBroker) {
		b.caps.Set(name, value)
	}
}

// WithPageURL supplies the navigation URL Fetch probes for the force-auth
// route and the automatedBrowser query parameter.
func WithPageURL(raw string) Option {
	return func(b *BaseBroker) {
		if u, err := url.Parse(raw); err == nil {
			b.pageURL = u
		}
	}
}

// NewBaseBroker returns a broker wired to the given collaborators. A nil
// store falls back to an in-memory one; a nil notifier disables the
// view-shown subscription.
func NewBaseBroker(relier *Relier, channel Channel, notifier Notifier, store VerificationStore, opts ...Option) *BaseBroker {
	if store == nil {
		store = NewMemoryVerificationStore()
	}

	b := &BaseBroker{
		relier:   relier,
		channel:  channel,
		notifier: notifier,
		store:    store,
		logger:   defLogger{},
		caps:     newCapabilities(nil),
		behaviors: map[string]Behavior{
			OpBeforeSignIn:                       ContinueBehavior(),
			OpAfterSignIn:                        ContinueBehavior(),
			OpAfterSignInConfirmationPoll:        NavigateBehavior(EndpointSignInConfirmed),
			OpBeforeSignUp:                       ContinueBehavior(),
			OpAfterSignUp:                        ContinueBehavior(),
			OpBeforeSignUpConfirmationPoll:       ContinueBehavior(),
			OpAfterSignUpConfirmationPoll:        NavigateBehavior(EndpointSignUpConfirmed),
			OpAfterCompleteSignUp:                ContinueBehavior(),
			OpBeforeForceAuth:                    ContinueBehavior(),
			OpAfterForceAuth:                     ContinueBehavior(),
			OpAfterResetPasswordConfirmationPoll: ContinueBehavior(),
			OpAfterCompleteResetPassword:         ContinueBehavior(),
			OpAfterChangePassword:                ContinueBehavior(),
			OpAfterDeleteAccount:                 ContinueBehavior(),
			OpAfterLoaded:                        ContinueBehavior(),
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	b.afterLoadedFn = b.AfterLoaded

	if b.notifier != nil {
		// one subscription per broker instance; each view-shown event
		// invokes AfterLoaded once
		b.notifier.On(EventViewShown, func(map[string]any) {
			if _, err := b.afterLoadedFn(context.Background()); err != nil {
				b.logger.Error("after loaded: %v", err)
			}
		})
	}

	return b
}

// Relier returns the relier this broker mediates for.
func (b *BaseBroker) Relier() *Relier {
	return b.relier
}

// BrowserSignedInAccount returns the account the host reported as signed
// in, if the status query produced one.
func (b *BaseBroker) BrowserSignedInAccount() *Account {
	return b.browserSignedInAccount
}

// Fetch performs the one-time environment probe. It must complete before
// any other hook result is considered valid. Calling it again is a no-op.
func (b *BaseBroker) Fetch(ctx context.Context) error {
	if b.fetched {
		return nil
	}
	b.fetched = true

	if b.pageURL != nil {
		b.forceAuth = b.pageURL.Path == forceAuthPath
		b.automatedBrowser = b.pageURL.Query().Get("automatedBrowser") == "true"
	}

	if !b.caps.Has(CapabilityStatusQuery) {
		return nil
	}
	if b.channel == nil || !b.channel.IsStatusSupported() {
		return nil
	}
	return b.fetchStatus(ctx)
}

// fetchStatus asks the host who is signed in. An invalid-web-channel
// classification means the host does not understand the query: the
// capability is disabled for the rest of the session and the error is
// swallowed. Anything else propagates.
func (b *BaseBroker) fetchStatus(ctx context.Context) error {
	response, err := b.channel.Request(ctx, CommandStatus, map[string]any{
		"service": b.relier.Service,
		"context": b.relier.Context,
	})
	if err != nil {
		if IsInvalidWebChannelError(err) {
			b.caps.Set(CapabilityStatusQuery, false)
			b.logger.Debug("host does not support %s: %v", CommandStatus, err)
			return nil
		}
		return err
	}

	if signedIn, ok := response["signedInUser"].(map[string]any); ok {
		b.browserSignedInAccount = accountFromStatus(signedIn)
	}
	return nil
}

func accountFromStatus(data map[string]any) *Account {
	account := &Account{Data: data}
	if uid, ok := data["uid"].(string); ok {
		account.UID = uid
	}
	if email, ok := data["email"].(string); ok {
		account.Email = email
	}
	if token, ok := data["sessionToken"].(string); ok {
		account.SessionToken = token
	}
	return account
}

// HasCapability reports whether name holds a truthy value.
func (b *BaseBroker) HasCapability(name string) bool {
	return b.caps.Has(name)
}

// GetCapability returns the raw stored value, or nil when absent.
func (b *BaseBroker) GetCapability(name string) any {
	return b.caps.Get(name)
}

func (b *BaseBroker) SetCapability(name string, value any) {
	b.caps.Set(name, value)
}

func (b *BaseBroker) UnsetCapability(name string) {
	b.caps.Unset(name)
}

// GetBehavior returns the behavior registered for name. An unknown name is
// a caller defect and fails with ErrBehaviorNotFound.
func (b *BaseBroker) GetBehavior(name string) (Behavior, error) {
	behavior, ok := b.behaviors[name]
	if !ok {
		return Behavior{}, detail(ErrBehaviorNotFound, map[string]any{
			"behavior": name,
		})
	}
	return behavior, nil
}

// SetBehavior registers behavior under name, replacing the default.
func (b *BaseBroker) SetBehavior(name string, behavior Behavior) {
	b.behaviors[name] = behavior
}

func (b *BaseBroker) behavior(name string) (Behavior, error) {
	return b.GetBehavior(name)
}

func (b *BaseBroker) BeforeSignIn(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpBeforeSignIn)
}

func (b *BaseBroker) AfterSignIn(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterSignIn)
}

func (b *BaseBroker) AfterSignInConfirmationPoll(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterSignInConfirmationPoll)
}

func (b *BaseBroker) BeforeSignUp(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpBeforeSignUp)
}

func (b *BaseBroker) AfterSignUp(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterSignUp)
}

func (b *BaseBroker) BeforeSignUpConfirmationPoll(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpBeforeSignUpConfirmationPoll)
}

func (b *BaseBroker) AfterSignUpConfirmationPoll(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterSignUpConfirmationPoll)
}

// AfterCompleteSignUp clears the verification record for account before
// resolving.
func (b *BaseBroker) AfterCompleteSignUp(ctx context.Context, account *Account) (Behavior, error) {
	if err := b.UnpersistVerificationData(ctx, account); err != nil {
		return Behavior{}, err
	}
	return b.behavior(OpAfterCompleteSignUp)
}

func (b *BaseBroker) BeforeForceAuth(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpBeforeForceAuth)
}

func (b *BaseBroker) AfterForceAuth(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterForceAuth)
}

func (b *BaseBroker) AfterResetPasswordConfirmationPoll(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterResetPasswordConfirmationPoll)
}

// AfterCompleteResetPassword clears the verification record for account
// before resolving.
func (b *BaseBroker) AfterCompleteResetPassword(ctx context.Context, account *Account) (Behavior, error) {
	if err := b.UnpersistVerificationData(ctx, account); err != nil {
		return Behavior{}, err
	}
	return b.behavior(OpAfterCompleteResetPassword)
}

func (b *BaseBroker) AfterChangePassword(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterChangePassword)
}

func (b *BaseBroker) AfterDeleteAccount(ctx context.Context, account *Account) (Behavior, error) {
	return b.behavior(OpAfterDeleteAccount)
}

func (b *BaseBroker) AfterLoaded(ctx context.Context) (Behavior, error) {
	return b.behavior(OpAfterLoaded)
}

// PersistVerificationData records the relier's context for account so a
// later page load (e.g. following an email link) can restore it.
func (b *BaseBroker) PersistVerificationData(ctx context.Context, account *Account) error {
	if account == nil || account.UID == "" {
		return ErrMissingAccountUID
	}
	return b.store.Save(ctx, verificationNamespace, account.UID, map[string]any{
		"context": b.relier.Context,
	})
}

// UnpersistVerificationData removes the verification record for account.
func (b *BaseBroker) UnpersistVerificationData(ctx context.Context, account *Account) error {
	if account == nil || account.UID == "" {
		return ErrMissingAccountUID
	}
	return b.store.Remove(ctx, verificationNamespace, account.UID)
}

// IsForceAuth reports whether the current page is the force-auth route.
// False before Fetch.
func (b *BaseBroker) IsForceAuth() bool {
	return b.forceAuth
}

// IsAutomatedBrowser reports whether the page was loaded by an automated
// browser. False before Fetch.
func (b *BaseBroker) IsAutomatedBrowser() bool {
	return b.automatedBrowser
}

// TransformLink returns link unmodified. Brokers targeting alternate
// transports override it to rewrite URLs.
func (b *BaseBroker) TransformLink(link string) string {
	return link
}

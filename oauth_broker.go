package broker

import (
	"context"
	"encoding/base64"
)

// OAuthBroker layers OAuth-flow concerns on the base lifecycle contract:
// verification data survives the email confirmation round trip, and reliers
// that requested key-bearing scopes get scoped keys provisioned.
type OAuthBroker struct {
	*BaseBroker
}

var _ Broker = (*OAuthBroker)(nil)

func NewOAuthBroker(relier *Relier, channel Channel, notifier Notifier, store VerificationStore, opts ...Option) *OAuthBroker {
	base := NewBaseBroker(relier, channel, notifier, store, opts...)
	base.SetCapability(CapabilityScopedKeys, true)
	return &OAuthBroker{BaseBroker: base}
}

// BeforeSignUpConfirmationPoll persists verification data so the flow can
// resume when the user returns from the confirmation email, then delegates
// to the base hook.
func (o *OAuthBroker) BeforeSignUpConfirmationPoll(ctx context.Context, account *Account) (Behavior, error) {
	if err := o.PersistVerificationData(ctx, account); err != nil {
		return Behavior{}, err
	}
	return o.BaseBroker.BeforeSignUpConfirmationPoll(ctx, account)
}

// BeforeForceAuth persists verification data for the same reason sign-up
// confirmation does: force-auth flows can bounce through email links.
func (o *OAuthBroker) BeforeForceAuth(ctx context.Context, account *Account) (Behavior, error) {
	if err := o.PersistVerificationData(ctx, account); err != nil {
		return Behavior{}, err
	}
	return o.BaseBroker.BeforeForceAuth(ctx, account)
}

// ProvisionScopedKeys derives the relier's scoped key material. It requires
// a relier that requested key-bearing scopes and an account with a uid.
func (o *OAuthBroker) ProvisionScopedKeys(ctx context.Context, account *Account) (map[string]any, error) {
	if account == nil || account.UID == "" {
		return nil, ErrMissingAccountUID
	}
	relier := o.Relier()
	if !relier.WantsKeys() {
		return nil, nil
	}

	key, err := DeriveChannelKey(relier.ClientID+":"+account.UID, relier.ChannelKey)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"kid":   account.UID,
		"k":     base64.RawURLEncoding.EncodeToString(key),
		"scope": relier.Scope,
	}, nil
}

package broker_test

import (
	"testing"

	"github.com/goliatone/go-authbroker"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinueBehavior(t *testing.T) {
	b := broker.ContinueBehavior()
	assert.False(t, b.Halt)
	assert.True(t, b.IsContinue())
	assert.Empty(t, b.Endpoint)
}

func TestNavigateBehavior(t *testing.T) {
	b := broker.NavigateBehavior("signin_confirmed")
	assert.True(t, b.Halt)
	assert.False(t, b.IsContinue())
	assert.Equal(t, "signin_confirmed", b.Endpoint)
}

func TestNavigateBehaviorExtra(t *testing.T) {
	b := broker.NavigateBehavior("pair_success", map[string]any{"service": "sync"})
	assert.True(t, b.Halt)
	assert.Equal(t, "sync", b.Extra["service"])
}

func TestGetBehaviorUnknownNameFailsFast(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.GetBehavior("NOT_SET")
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrBehaviorNotFound)
}

func TestGetBehaviorErrorsKeepDistinctMetadata(t *testing.T) {
	b := newTestBroker(t)

	_, firstErr := b.GetBehavior("first-name")
	_, secondErr := b.GetBehavior("second-name")

	var first, second *goerrors.Error
	require.ErrorAs(t, firstErr, &first)
	require.ErrorAs(t, secondErr, &second)

	// a held error must not change when a later call fails too
	assert.Equal(t, "first-name", first.Metadata["behavior"])
	assert.Equal(t, "second-name", second.Metadata["behavior"])
	assert.Empty(t, broker.ErrBehaviorNotFound.Metadata)
}

func TestSetBehaviorRoundTrip(t *testing.T) {
	b := newTestBroker(t)

	custom := broker.NavigateBehavior("settings", map[string]any{"reason": "forced"})
	b.SetBehavior(broker.OpAfterSignIn, custom)

	got, err := b.GetBehavior(broker.OpAfterSignIn)
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func TestDefaultBehaviorsAreContinue(t *testing.T) {
	b := newTestBroker(t)

	for _, op := range []string{
		broker.OpBeforeSignIn,
		broker.OpAfterSignIn,
		broker.OpBeforeSignUp,
		broker.OpAfterSignUp,
		broker.OpBeforeSignUpConfirmationPoll,
		broker.OpAfterCompleteSignUp,
		broker.OpBeforeForceAuth,
		broker.OpAfterForceAuth,
		broker.OpAfterResetPasswordConfirmationPoll,
		broker.OpAfterCompleteResetPassword,
		broker.OpAfterChangePassword,
		broker.OpAfterDeleteAccount,
		broker.OpAfterLoaded,
	} {
		got, err := b.GetBehavior(op)
		require.NoError(t, err, op)
		assert.True(t, got.IsContinue(), "%s should default to continue", op)
	}
}

func TestConfirmationPollDefaultsNavigate(t *testing.T) {
	b := newTestBroker(t)

	signIn, err := b.GetBehavior(broker.OpAfterSignInConfirmationPoll)
	require.NoError(t, err)
	assert.True(t, signIn.Halt)
	assert.Equal(t, broker.EndpointSignInConfirmed, signIn.Endpoint)

	signUp, err := b.GetBehavior(broker.OpAfterSignUpConfirmationPoll)
	require.NoError(t, err)
	assert.True(t, signUp.Halt)
	assert.Equal(t, broker.EndpointSignUpConfirmed, signUp.Endpoint)
}

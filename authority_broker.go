package broker

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Pairing channel commands. Every authority-originated message is stamped
// with the relier's channel id.
const (
	CommandSupplicantMetadata = "pair:request-supplicant-metadata"
	CommandHeartbeat          = "pair:heartbeat"
	CommandAuthorize          = "pair:authorize"
	CommandDecline            = "pair:decline"
	CommandComplete           = "pair:complete"
)

// Pairing operation names added to the behavior map by pairing brokers.
const (
	OpAfterPairAuthAllow    = "after-pair-auth-allow"
	OpAfterPairAuthDecline  = "after-pair-auth-decline"
	OpAfterPairAuthComplete = "after-pair-auth-complete"
)

// AuthorityBroker runs the approving endpoint of a device-pairing session.
// It layers the pairing state machine and heartbeat on the OAuth broker:
// Fetch probes the environment, pulls the supplicant's metadata once, then
// polls for liveness and remote authorization until the session settles.
type AuthorityBroker struct {
	*OAuthBroker

	machine   *PairingStateMachine
	heartbeat *Heartbeat

	remoteMetaData   map[string]any
	confirmationCode string
}

var _ Broker = (*AuthorityBroker)(nil)

// AuthorityOption customizes authority broker construction.
type AuthorityOption func(*authorityConfig)

type authorityConfig struct {
	brokerOpts        []Option
	machineOpts       []PairingStateMachineOption
	heartbeatInterval time.Duration
}

// WithAuthorityBrokerOptions forwards options to the underlying broker.
func WithAuthorityBrokerOptions(opts ...Option) AuthorityOption {
	return func(c *authorityConfig) {
		c.brokerOpts = append(c.brokerOpts, opts...)
	}
}

// WithAuthorityMachineOptions forwards options to the state machine.
func WithAuthorityMachineOptions(opts ...PairingStateMachineOption) AuthorityOption {
	return func(c *authorityConfig) {
		c.machineOpts = append(c.machineOpts, opts...)
	}
}

// WithHeartbeatInterval overrides the liveness poll period (default 1s).
func WithHeartbeatInterval(interval time.Duration) AuthorityOption {
	return func(c *authorityConfig) {
		if interval > 0 {
			c.heartbeatInterval = interval
		}
	}
}

func NewAuthorityBroker(relier *Relier, channel Channel, notifier Notifier, store VerificationStore, opts ...AuthorityOption) (*AuthorityBroker, error) {
	if err := relier.ValidatePairing(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "relier cannot run a pairing session")
	}

	cfg := &authorityConfig{heartbeatInterval: DefaultHeartbeatInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	a := &AuthorityBroker{
		OAuthBroker: NewOAuthBroker(relier, channel, notifier, store, cfg.brokerOpts...),
	}
	a.SetCapability(CapabilitySupportsPairing, true)
	a.SetBehavior(OpAfterPairAuthAllow, ContinueBehavior())
	a.SetBehavior(OpAfterPairAuthDecline, ContinueBehavior())
	a.SetBehavior(OpAfterPairAuthComplete, ContinueBehavior())

	machineOpts := append([]PairingStateMachineOption{
		WithPairingLogger(a.logger),
		WithPairingObserver(func(t PairingTransition) {
			if t.To.IsTerminal() {
				a.heartbeat.Stop()
			}
		}),
	}, cfg.machineOpts...)

	a.machine = NewPairingStateMachine(machineOpts...)
	a.heartbeat = NewHeartbeat(cfg.heartbeatInterval, a.pollHeartbeat)

	return a, nil
}

// PairingState returns the machine's current state.
func (a *AuthorityBroker) PairingState() PairingState {
	return a.machine.State()
}

// ConfirmationCode returns the code extracted from the supplicant's
// metadata, empty until GetSupplicantMetadata succeeds.
func (a *AuthorityBroker) ConfirmationCode() string {
	return a.confirmationCode
}

// Fetch runs the base environment probe, pulls the supplicant's metadata,
// then starts the heartbeat. The three steps are strictly sequenced; any
// failure aborts the remainder.
func (a *AuthorityBroker) Fetch(ctx context.Context) error {
	if err := a.OAuthBroker.Fetch(ctx); err != nil {
		return err
	}
	if _, err := a.GetSupplicantMetadata(ctx); err != nil {
		return err
	}
	a.StartHeartbeat(ctx)
	return nil
}

// GetSupplicantMetadata returns the remote device descriptor, fetching it
// from the channel at most once per broker lifetime. Subsequent calls are
// cache hits.
func (a *AuthorityBroker) GetSupplicantMetadata(ctx context.Context) (map[string]any, error) {
	if a.remoteMetaData != nil {
		return a.remoteMetaData, nil
	}

	response, err := a.Request(ctx, CommandSupplicantMetadata, map[string]any{})
	if err != nil {
		return nil, err
	}

	a.remoteMetaData = response
	if code, ok := response["confirmation_code"].(string); ok {
		a.confirmationCode = code
	}

	if _, err := a.machine.Dispatch(ctx, PairingEventMetadataReceived, response); err != nil {
		return nil, err
	}
	return a.remoteMetaData, nil
}

// Request issues a correlated channel request stamped with the relier's
// channel id. A synchronous panic inside the channel surfaces as a returned
// error so callers see one failure surface.
func (a *AuthorityBroker) Request(ctx context.Context, command string, data map[string]any) (response map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			response = nil
			err = goerrors.New(fmt.Sprintf("channel panic: %v", r), goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal)
		}
	}()
	return a.channel.Request(ctx, command, a.stamp(data))
}

// Send issues a one-way channel notification stamped with the relier's
// channel id, with the same uniform failure surface as Request.
func (a *AuthorityBroker) Send(ctx context.Context, command string, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerrors.New(fmt.Sprintf("channel panic: %v", r), goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal)
		}
	}()
	return a.channel.Send(ctx, command, a.stamp(data))
}

// stamp copies data so the caller's map is never mutated.
func (a *AuthorityBroker) stamp(data map[string]any) map[string]any {
	stamped := make(map[string]any, len(data)+1)
	for k, v := range data {
		stamped[k] = v
	}
	stamped["channel_id"] = a.relier.ChannelID
	return stamped
}

// StartHeartbeat begins the liveness poll. Restarting a stopped heartbeat
// requires a new broker; the loop is stopped exactly once, on teardown or
// on the machine reaching a terminal state.
func (a *AuthorityBroker) StartHeartbeat(ctx context.Context) {
	a.heartbeat.Start(ctx)
}

// StopHeartbeat ends the liveness poll. Idempotent.
func (a *AuthorityBroker) StopHeartbeat() {
	a.heartbeat.Stop()
}

// pollHeartbeat is one liveness round trip. An err field in the response
// routes into the machine as heartbeat-error data and the loop keeps
// running; a suppAuthorized flag records the remote approval and emits
// exactly one pair:supp:authorize notification; anything else is a no-op.
func (a *AuthorityBroker) pollHeartbeat(ctx context.Context) {
	response, err := a.Request(ctx, CommandHeartbeat, map[string]any{})
	if err != nil {
		a.dispatchHeartbeatError(ctx, err)
		return
	}

	switch {
	case response["err"] != nil:
		a.dispatchHeartbeatError(ctx, goerrors.New(fmt.Sprintf("heartbeat: %v", response["err"]), goerrors.CategoryOperation))
	case truthy(response["suppAuthorized"]):
		if _, err := a.machine.Dispatch(ctx, PairingEventSupplicantAuthorized, response); err != nil {
			a.logger.Warn("supplicant authorized: %v", err)
			return
		}
		if a.notifier != nil {
			a.notifier.Trigger(EventSupplicantAuthorize, response)
		}
	}
}

func (a *AuthorityBroker) dispatchHeartbeatError(ctx context.Context, cause error) {
	if _, err := a.machine.Dispatch(ctx, PairingEventHeartbeatError, map[string]any{"error": cause}); err != nil {
		a.logger.Debug("heartbeat error dropped in state %s: %v", a.machine.State(), cause)
	}
}

// AfterPairAuthAllow records the local user's approval: it emits the
// pair:auth:authorize notification, advances the machine, and tells the
// supplicant. It resolves once the send completes.
func (a *AuthorityBroker) AfterPairAuthAllow(ctx context.Context, account *Account) (Behavior, error) {
	if a.notifier != nil {
		a.notifier.Trigger(EventAuthorityAuthorize, map[string]any{
			"channel_id": a.relier.ChannelID,
		})
	}
	if _, err := a.machine.Dispatch(ctx, PairingEventAuthorityAuthorized, nil); err != nil {
		return Behavior{}, err
	}
	if err := a.Send(ctx, CommandAuthorize, map[string]any{}); err != nil {
		return Behavior{}, err
	}
	return a.behavior(OpAfterPairAuthAllow)
}

// AfterPairAuthDecline records the local user's refusal and tells the
// supplicant. The machine settles in declined, which stops the heartbeat.
func (a *AuthorityBroker) AfterPairAuthDecline(ctx context.Context) (Behavior, error) {
	if _, err := a.machine.Dispatch(ctx, PairingEventAuthorityDeclined, nil); err != nil {
		return Behavior{}, err
	}
	if err := a.Send(ctx, CommandDecline, map[string]any{}); err != nil {
		return Behavior{}, err
	}
	return a.behavior(OpAfterPairAuthDecline)
}

// AfterPairAuthComplete settles an authorized session. The machine reaches
// complete, which stops the heartbeat, and the supplicant is told.
func (a *AuthorityBroker) AfterPairAuthComplete(ctx context.Context, account *Account) (Behavior, error) {
	if _, err := a.machine.Dispatch(ctx, PairingEventComplete, nil); err != nil {
		return Behavior{}, err
	}
	if err := a.Send(ctx, CommandComplete, map[string]any{}); err != nil {
		return Behavior{}, err
	}
	return a.behavior(OpAfterPairAuthComplete)
}

// ProvisionScopedKeys is a supplicant-side operation; calling it on the
// authority is a caller defect.
func (a *AuthorityBroker) ProvisionScopedKeys(ctx context.Context, account *Account) (map[string]any, error) {
	return nil, detail(ErrRoleViolation, map[string]any{
		"role":      "authority",
		"operation": "ProvisionScopedKeys",
	})
}

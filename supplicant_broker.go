package broker

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Supplicant-originated channel commands.
const (
	CommandOfferMetadata     = "pair:supplicant-metadata"
	CommandSupplicantApprove = "pair:supp:approve"
)

// OpAfterSupplicantApprove keys the behavior resolved after the supplicant
// user approves the session on their device.
const OpAfterSupplicantApprove = "after-supplicant-approve"

// DeviceMetadata describes the local device to the remote endpoint.
type DeviceMetadata struct {
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	UserAgent  string `json:"ua,omitempty"`
	RemoteAddr string `json:"ipAddress,omitempty"`
}

func (d DeviceMetadata) toMap() map[string]any {
	out := map[string]any{}
	if d.City != "" {
		out["city"] = d.City
	}
	if d.Country != "" {
		out["country"] = d.Country
	}
	if d.Region != "" {
		out["region"] = d.Region
	}
	if d.UserAgent != "" {
		out["ua"] = d.UserAgent
	}
	if d.RemoteAddr != "" {
		out["ipAddress"] = d.RemoteAddr
	}
	return out
}

// SupplicantBroker runs the requesting endpoint of a device-pairing
// session. It mirrors the authority contract: instead of fetching remote
// metadata it offers its own, and instead of approving it waits for the
// authority's verdict over the channel. Scoped-key provisioning is allowed
// here - the supplicant is the endpoint that ends up holding keys.
type SupplicantBroker struct {
	*OAuthBroker

	machine          *PairingStateMachine
	device           DeviceMetadata
	confirmationCode string
}

var _ Broker = (*SupplicantBroker)(nil)

// SupplicantOption customizes supplicant broker construction.
type SupplicantOption func(*supplicantConfig)

type supplicantConfig struct {
	brokerOpts  []Option
	machineOpts []PairingStateMachineOption
	device      DeviceMetadata
}

// WithSupplicantBrokerOptions forwards options to the underlying broker.
func WithSupplicantBrokerOptions(opts ...Option) SupplicantOption {
	return func(c *supplicantConfig) {
		c.brokerOpts = append(c.brokerOpts, opts...)
	}
}

// WithSupplicantMachineOptions forwards options to the state machine.
func WithSupplicantMachineOptions(opts ...PairingStateMachineOption) SupplicantOption {
	return func(c *supplicantConfig) {
		c.machineOpts = append(c.machineOpts, opts...)
	}
}

// WithDeviceMetadata sets the descriptor offered to the authority.
func WithDeviceMetadata(device DeviceMetadata) SupplicantOption {
	return func(c *supplicantConfig) {
		c.device = device
	}
}

func NewSupplicantBroker(relier *Relier, channel Channel, notifier Notifier, store VerificationStore, opts ...SupplicantOption) (*SupplicantBroker, error) {
	if err := relier.ValidatePairing(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "relier cannot run a pairing session")
	}

	cfg := &supplicantConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	s := &SupplicantBroker{
		OAuthBroker: NewOAuthBroker(relier, channel, notifier, store, cfg.brokerOpts...),
		device:      cfg.device,
	}
	s.SetCapability(CapabilitySupportsPairing, true)
	s.SetBehavior(OpAfterSupplicantApprove, ContinueBehavior())

	machineOpts := append([]PairingStateMachineOption{
		WithPairingLogger(s.logger),
		// the supplicant offers metadata instead of awaiting it
		WithPairingInitialState(PairingStateAwaitingAuthorization),
	}, cfg.machineOpts...)
	s.machine = NewPairingStateMachine(machineOpts...)

	key, err := DeriveChannelKey(relier.ChannelID, relier.ChannelKey)
	if err != nil {
		return nil, err
	}
	s.confirmationCode = ConfirmationCodeFromKey(key)

	return s, nil
}

// PairingState returns the machine's current state.
func (s *SupplicantBroker) PairingState() PairingState {
	return s.machine.State()
}

// ConfirmationCode returns the code derived from the channel key; the
// authority displays the same code after fetching this device's metadata.
func (s *SupplicantBroker) ConfirmationCode() string {
	return s.confirmationCode
}

// Fetch runs the base environment probe, then offers this device's
// metadata, confirmation code included, to the authority.
func (s *SupplicantBroker) Fetch(ctx context.Context) error {
	if err := s.OAuthBroker.Fetch(ctx); err != nil {
		return err
	}

	data := s.device.toMap()
	data["confirmation_code"] = s.confirmationCode
	return s.Send(ctx, CommandOfferMetadata, data)
}

// Send issues a one-way channel notification stamped with the relier's
// channel id. Synchronous channel panics surface as returned errors.
func (s *SupplicantBroker) Send(ctx context.Context, command string, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerrors.New(fmt.Sprintf("channel panic: %v", r), goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal)
		}
	}()
	stamped := make(map[string]any, len(data)+1)
	for k, v := range data {
		stamped[k] = v
	}
	stamped["channel_id"] = s.relier.ChannelID
	return s.channel.Send(ctx, command, stamped)
}

// AfterSupplicantApprove records the local user's approval: the machine
// stays in awaiting-authorization until the authority's verdict arrives,
// but the approval is announced locally and over the channel so the
// authority's next heartbeat sees suppAuthorized.
func (s *SupplicantBroker) AfterSupplicantApprove(ctx context.Context, account *Account) (Behavior, error) {
	if _, err := s.machine.Dispatch(ctx, PairingEventSupplicantAuthorized, nil); err != nil {
		return Behavior{}, err
	}
	if s.notifier != nil {
		s.notifier.Trigger(EventSupplicantAuthorize, map[string]any{
			"channel_id": s.relier.ChannelID,
		})
	}
	if err := s.Send(ctx, CommandSupplicantApprove, map[string]any{}); err != nil {
		return Behavior{}, err
	}
	return s.behavior(OpAfterSupplicantApprove)
}

// HandleAuthorityVerdict routes the authority's authorize/decline/complete
// commands, delivered over the channel, into the machine.
func (s *SupplicantBroker) HandleAuthorityVerdict(ctx context.Context, command string, data map[string]any) error {
	var event PairingEvent
	switch command {
	case CommandAuthorize:
		event = PairingEventAuthorityAuthorized
	case CommandDecline:
		event = PairingEventAuthorityDeclined
	case CommandComplete:
		event = PairingEventComplete
	default:
		return goerrors.New(fmt.Sprintf("unknown pairing command %q", command), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	_, err := s.machine.Dispatch(ctx, event, data)
	return err
}

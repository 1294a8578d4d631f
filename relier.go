package broker

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Relier is the external party requesting authentication on behalf of a
// user. Brokers read its fields; they never mutate it.
type Relier struct {
	Service    string `json:"service,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	ChannelKey string `json:"channelKey,omitempty"`
	Context    string `json:"context,omitempty"`
	Scope      string `json:"scope,omitempty"`
}

// Validate checks the fields every broker depends on. Pairing brokers
// additionally require ValidatePairing.
func (r *Relier) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Context, validation.Required),
		validation.Field(&r.ClientID, is.Alphanumeric),
	)
}

// ValidatePairing checks the fields the pairing protocol depends on: every
// authority-originated message is stamped with ChannelID, and the channel
// key seeds confirmation-code derivation.
func (r *Relier) ValidatePairing() error {
	if err := r.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.ChannelID, validation.Required),
		validation.Field(&r.ChannelKey, validation.Required),
	)
}

// WantsKeys reports whether the relier requested key-bearing scopes.
func (r *Relier) WantsKeys() bool {
	return r.ChannelKey != "" && r.Scope != ""
}

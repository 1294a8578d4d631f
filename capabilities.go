package broker

import "reflect"

// Well-known capability names.
const (
	CapabilitySignup                  = "signup"
	CapabilitySignedInNotification    = "handleSignedInNotification"
	CapabilityVerificationMarketing   = "emailVerificationMarketingSnippet"
	CapabilityStatusQuery             = "fxaStatus"
	CapabilitySupportsPairing         = "supportsPairing"
	CapabilityScopedKeys              = "scopedKeys"
	CapabilityChooseWhatToSyncWebV1   = "chooseWhatToSyncWebV1"
	CapabilityOpenWebmailButtonShown  = "openWebmailButtonVisible"
	CapabilityConvertExternalLinks    = "convertExternalLinksToText"
	CapabilityReuseExistingSession    = "reuseExistingSession"
)

// Capabilities is a per-broker registry of named flags toggling optional
// behavior. Values are arbitrary; Has applies truthiness, so a stored
// false/0/"" reads as absent. The registry is owned by exactly one broker
// and lives for its lifetime.
type Capabilities struct {
	values map[string]any
}

// newCapabilities seeds the defaults every broker starts with, then applies
// construction-time overrides.
func newCapabilities(overrides map[string]any) *Capabilities {
	c := &Capabilities{
		values: map[string]any{
			CapabilitySignup:                true,
			CapabilitySignedInNotification:  true,
			CapabilityVerificationMarketing: true,
			CapabilityStatusQuery:           true,
		},
	}
	for name, value := range overrides {
		c.values[name] = value
	}
	return c
}

// Set stores value under name, replacing any previous entry.
func (c *Capabilities) Set(name string, value any) {
	c.values[name] = value
}

// Unset removes name from the registry.
func (c *Capabilities) Unset(name string) {
	delete(c.values, name)
}

// Get returns the raw stored value, or nil when name is absent.
func (c *Capabilities) Get(name string) any {
	return c.values[name]
}

// Has reports whether name is stored with a truthy value.
func (c *Capabilities) Has(name string) bool {
	v, ok := c.values[name]
	if !ok {
		return false
	}
	return truthy(v)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Chan:
		return !rv.IsNil()
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

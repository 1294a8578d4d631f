package broker

// Behavior describes what the caller does after a lifecycle hook resolves:
// proceed with the default UI flow, or halt and navigate to Endpoint.
// Extra carries hook-specific fields the destination view may consume.
type Behavior struct {
	Halt     bool           `json:"halt,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ContinueBehavior returns the pass-through behavior: no halt, caller keeps
// the default flow.
func ContinueBehavior() Behavior {
	return Behavior{}
}

// NavigateBehavior returns a halting behavior pointing at endpoint.
func NavigateBehavior(endpoint string, extra ...map[string]any) Behavior {
	b := Behavior{Halt: true, Endpoint: endpoint}
	for _, m := range extra {
		if len(m) == 0 {
			continue
		}
		if b.Extra == nil {
			b.Extra = make(map[string]any, len(m))
		}
		for k, v := range m {
			b.Extra[k] = v
		}
	}
	return b
}

// IsContinue reports whether the behavior leaves control with the caller.
func (b Behavior) IsContinue() bool {
	return !b.Halt
}

package broker

import (
	"context"
	"sync"
	"time"
)

// PairingState is one of the authority-side protocol states.
type PairingState string

const (
	PairingStateAwaitingMetadata      PairingState = "awaiting-supplicant-metadata"
	PairingStateAwaitingAuthorization PairingState = "awaiting-authorization"
	PairingStateAuthorized            PairingState = "authorized"
	PairingStateDeclined              PairingState = "declined"
	PairingStateError                 PairingState = "error"
	PairingStateComplete              PairingState = "complete"
)

// IsTerminal reports whether the state accepts no further events.
func (s PairingState) IsTerminal() bool {
	switch s {
	case PairingStateDeclined, PairingStateError, PairingStateComplete:
		return true
	}
	return false
}

// PairingEvent is a typed state machine input.
type PairingEvent string

const (
	// PairingEventMetadataReceived carries the supplicant's device metadata.
	PairingEventMetadataReceived PairingEvent = "metadata-received"
	// PairingEventSupplicantAuthorized records the remote user's approval.
	// It does not advance past awaiting-authorization on its own: the
	// authority user still has to approve.
	PairingEventSupplicantAuthorized PairingEvent = "supplicant-authorized"
	// PairingEventAuthorityAuthorized records the local user's approval.
	PairingEventAuthorityAuthorized PairingEvent = "authority-authorized"
	// PairingEventAuthorityDeclined terminates the session as declined.
	PairingEventAuthorityDeclined PairingEvent = "authority-declined"
	// PairingEventHeartbeatError records a failed liveness round trip. The
	// state does not change; repeated failures are the consumer's call.
	PairingEventHeartbeatError PairingEvent = "heartbeat-error"
	// PairingEventFatalError terminates the session as errored.
	PairingEventFatalError PairingEvent = "pairing-error"
	// PairingEventComplete terminates a fully authorized session.
	PairingEventComplete PairingEvent = "pairing-complete"
)

// PairingTransition describes one applied transition.
type PairingTransition struct {
	From    PairingState
	To      PairingState
	Event   PairingEvent
	Payload map[string]any
	At      time.Time
}

// PairingTransitionHook runs before a transition is applied; returning an
// error vetoes it.
type PairingTransitionHook func(ctx context.Context, t PairingTransition) error

// PairingObserver runs after a transition is applied. Observers must not
// block; they receive terminal transitions too.
type PairingObserver func(t PairingTransition)

// PairingStateMachineOption customizes machine construction.
type PairingStateMachineOption func(*PairingStateMachine)

// WithPairingClock injects a custom clock (useful for tests).
func WithPairingClock(clock func() time.Time) PairingStateMachineOption {
	return func(m *PairingStateMachine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithPairingLogger overrides the machine's logger.
func WithPairingLogger(logger Logger) PairingStateMachineOption {
	return func(m *PairingStateMachine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPairingInitialState overrides the initial state. The supplicant side
// starts at awaiting-authorization since it sends, not fetches, metadata.
func WithPairingInitialState(state PairingState) PairingStateMachineOption {
	return func(m *PairingStateMachine) {
		if state != "" {
			m.state = state
		}
	}
}

// WithBeforePairingTransition adds a hook that can veto transitions.
func WithBeforePairingTransition(h PairingTransitionHook) PairingStateMachineOption {
	return func(m *PairingStateMachine) {
		if h != nil {
			m.beforeHooks = append(m.beforeHooks, h)
		}
	}
}

// WithPairingObserver adds an observer notified after each transition.
func WithPairingObserver(o PairingObserver) PairingStateMachineOption {
	return func(m *PairingStateMachine) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// PairingStateMachine owns the authority-side pairing protocol state. It is
// owned by exactly one broker instance; Dispatch is safe to call from the
// heartbeat goroutine and the caller's goroutine.
type PairingStateMachine struct {
	mu          sync.Mutex
	state       PairingState
	transitions map[PairingState]map[PairingEvent]PairingState
	now         func() time.Time
	logger      Logger
	beforeHooks []PairingTransitionHook
	observers   []PairingObserver

	lastHeartbeatError error
}

// NewPairingStateMachine returns a machine at awaiting-supplicant-metadata
// with the authority transition graph.
func NewPairingStateMachine(opts ...PairingStateMachineOption) *PairingStateMachine {
	m := &PairingStateMachine{
		state: PairingStateAwaitingMetadata,
		transitions: map[PairingState]map[PairingEvent]PairingState{
			PairingStateAwaitingMetadata: {
				PairingEventMetadataReceived: PairingStateAwaitingAuthorization,
				PairingEventHeartbeatError:   PairingStateAwaitingMetadata,
				PairingEventFatalError:       PairingStateError,
			},
			PairingStateAwaitingAuthorization: {
				PairingEventSupplicantAuthorized: PairingStateAwaitingAuthorization,
				PairingEventAuthorityAuthorized:  PairingStateAuthorized,
				PairingEventAuthorityDeclined:    PairingStateDeclined,
				PairingEventHeartbeatError:       PairingStateAwaitingAuthorization,
				PairingEventFatalError:           PairingStateError,
			},
			PairingStateAuthorized: {
				PairingEventSupplicantAuthorized: PairingStateAuthorized,
				PairingEventComplete:             PairingStateComplete,
				PairingEventHeartbeatError:       PairingStateAuthorized,
				PairingEventFatalError:           PairingStateError,
			},
		},
		now:    time.Now,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// State returns the current state.
func (m *PairingStateMachine) State() PairingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastHeartbeatError returns the most recent error routed in through
// PairingEventHeartbeatError, or nil.
func (m *PairingStateMachine) LastHeartbeatError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatError
}

// Dispatch applies event with payload and returns the resulting state.
// Events on a terminal state fail with ErrTerminalPairingState; events not
// legal in the current state fail with ErrInvalidTransition.
func (m *PairingStateMachine) Dispatch(ctx context.Context, event PairingEvent, payload map[string]any) (PairingState, error) {
	m.mu.Lock()

	from := m.state
	if from.IsTerminal() {
		m.mu.Unlock()
		return from, detail(ErrTerminalPairingState, map[string]any{
			"state": string(from),
			"event": string(event),
		})
	}

	to, ok := m.transitions[from][event]
	if !ok {
		m.mu.Unlock()
		return from, detail(ErrInvalidTransition, map[string]any{
			"state": string(from),
			"event": string(event),
		})
	}

	transition := PairingTransition{
		From:    from,
		To:      to,
		Event:   event,
		Payload: payload,
		At:      m.now(),
	}

	for _, hook := range m.beforeHooks {
		if err := hook(ctx, transition); err != nil {
			m.mu.Unlock()
			return from, err
		}
	}

	m.state = to
	if event == PairingEventHeartbeatError {
		if err, ok := payload["error"].(error); ok {
			m.lastHeartbeatError = err
		}
	}
	observers := m.observers
	m.mu.Unlock()

	m.logger.Debug("pairing transition %s -> %s (%s)", from, to, event)

	for _, observe := range observers {
		observe(transition)
	}

	return to, nil
}

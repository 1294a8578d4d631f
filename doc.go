// Package broker provides the client-side authentication orchestration
// layer that sits between account/relier models and a host environment
// (browser chrome, a paired companion device, or a plain web context).
//
// Brokers:
//   - BaseBroker implements the generic lifecycle contract: a Before/After
//     hook pair per account operation, each resolving to a Behavior that
//     tells the caller whether to continue the default UI flow or halt and
//     navigate elsewhere. Hooks never render UI; they classify and forward.
//   - OAuthBroker layers verification-data persistence and scoped-key
//     provisioning on top of the base contract.
//   - AuthorityBroker and SupplicantBroker run the two endpoints of a
//     device-pairing session over a notification Channel. The authority
//     side owns a PairingStateMachine and a Heartbeat that polls the remote
//     endpoint for liveness and authorization.
//
// Capabilities:
//   - Every broker owns a Capabilities registry of named flags that toggle
//     optional behavior (signup, fxaStatus, ...). Registries are seeded at
//     construction and mutated only through SetCapability/UnsetCapability,
//     so downstream views can probe what the host supports.
//
// Behaviors:
//   - Hook results are Behavior values, not side effects. Callers check
//     Halt and navigate to Endpoint when set. Per-operation behaviors can
//     be replaced at configuration time with SetBehavior.
package broker

// Package billing provides domain models for reconciling local billing state with an
// external payment provider.
//
// This package implements the billing reconciliation bounded context, which is responsible for:
//   - Mirroring provider customers and subscriptions into local Customer/Subscription rows
//   - Recording which provider events have already been applied (the processed-event ledger)
//   - Exposing per-model request usage so it can be billed back to the provider
//
// Key Aggregates:
//   - Customer: Billing identity of a local account, keyed by the provider customer ID
//   - Subscription: Local mirror of a provider subscription, keyed by the provider subscription ID
//
// Value Objects:
//   - ProcessedEvent: Write-once ledger entry for an applied provider event
//   - UsageMeter: Per-account, per-model, per-mode request counter for the current period
//   - ProviderEvent, ProviderCustomer, ProviderSubscription: Snapshots received from the provider
//
// The billing domain integrates with:
//   - Identity domain: Accounts are looked up by email and flagged as staff there
//   - LLM usage metering: Usage meters are owned and written elsewhere, read-only here
package billing

// Package models contains the GORM models behind the reconciler tables.
// They are kept apart from the billing domain types; each model has
// ToDomain and a FromDomain constructor, and repositories only touch models.
//
// Tables:
//   - accounts: read-only view of the local user accounts
//   - billing_customers, billing_subscriptions: the provider mirror
//   - processed_stripe_events: the write-once event ledger
//   - subscription_usage_meters: per-period model request counters
package models

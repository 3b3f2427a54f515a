package models

import (
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/google/uuid"
)

// AccountModel is the read model of a local account
type AccountModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	Email     string    `gorm:"type:varchar(320);not null;index"`
	IsStaff   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account
func (m *AccountModel) ToDomain() *domainBilling.Account {
	return &domainBilling.Account{
		ID:      m.ID,
		Email:   m.Email,
		IsStaff: m.IsStaff,
	}
}

// BillingCustomerModel is the persistence model for the Customer entity
type BillingCustomerModel struct {
	BaseModel
	AccountID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	StripeCustomerID   string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	TrialStartedAt     *time.Time `gorm:"type:timestamptz"`
	HasOverdueInvoices bool       `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (BillingCustomerModel) TableName() string {
	return "billing_customers"
}

// ToDomain converts the persistence model to a domain Customer
func (m *BillingCustomerModel) ToDomain() *domainBilling.Customer {
	return &domainBilling.Customer{
		BaseEntity:         m.BaseModel.ToDomain(),
		AccountID:          m.AccountID,
		StripeCustomerID:   m.StripeCustomerID,
		TrialStartedAt:     m.TrialStartedAt,
		HasOverdueInvoices: m.HasOverdueInvoices,
	}
}

// BillingCustomerModelFromDomain creates a persistence model from a domain Customer
func BillingCustomerModelFromDomain(c *domainBilling.Customer) *BillingCustomerModel {
	m := &BillingCustomerModel{
		AccountID:          c.AccountID,
		StripeCustomerID:   c.StripeCustomerID,
		TrialStartedAt:     c.TrialStartedAt,
		HasOverdueInvoices: c.HasOverdueInvoices,
	}
	m.FromDomainBaseEntity(c.BaseEntity)
	return m
}

// BillingSubscriptionModel is the persistence model for the Subscription entity
type BillingSubscriptionModel struct {
	BaseModel
	BillingCustomerID        uuid.UUID                         `gorm:"type:uuid;not null;index"`
	Kind                     *domainBilling.SubscriptionKind   `gorm:"type:varchar(20);index"`
	StripeSubscriptionID     string                            `gorm:"type:varchar(255);not null;uniqueIndex"`
	StripeSubscriptionStatus domainBilling.SubscriptionStatus  `gorm:"type:varchar(30);not null;index"`
	StripeCancelAt           *time.Time                        `gorm:"type:timestamptz"`
	StripeCancellationReason *domainBilling.CancellationReason `gorm:"type:varchar(30)"`
	StripeCurrentPeriodStart *int64                            `gorm:"type:bigint"`
	StripeCurrentPeriodEnd   *int64                            `gorm:"type:bigint"`
}

// TableName returns the table name for GORM
func (BillingSubscriptionModel) TableName() string {
	return "billing_subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription
func (m *BillingSubscriptionModel) ToDomain() *domainBilling.Subscription {
	return &domainBilling.Subscription{
		BaseEntity:           m.BaseModel.ToDomain(),
		CustomerID:           m.BillingCustomerID,
		Kind:                 m.Kind,
		StripeSubscriptionID: m.StripeSubscriptionID,
		Status:               m.StripeSubscriptionStatus,
		CancelAt:             m.StripeCancelAt,
		CancellationReason:   m.StripeCancellationReason,
		PeriodStart:          m.StripeCurrentPeriodStart,
		PeriodEnd:            m.StripeCurrentPeriodEnd,
	}
}

// BillingSubscriptionModelFromDomain creates a persistence model from a domain Subscription
func BillingSubscriptionModelFromDomain(s *domainBilling.Subscription) *BillingSubscriptionModel {
	m := &BillingSubscriptionModel{
		BillingCustomerID:        s.CustomerID,
		Kind:                     s.Kind,
		StripeSubscriptionID:     s.StripeSubscriptionID,
		StripeSubscriptionStatus: s.Status,
		StripeCancelAt:           s.CancelAt,
		StripeCancellationReason: s.CancellationReason,
		StripeCurrentPeriodStart: s.PeriodStart,
		StripeCurrentPeriodEnd:   s.PeriodEnd,
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	return m
}

// ProcessedEventModel is a row of the processed-event ledger
type ProcessedEventModel struct {
	StripeEventID               string                  `gorm:"type:varchar(255);primary_key"`
	StripeEventType             domainBilling.EventType `gorm:"type:varchar(100);not null"`
	StripeEventCreatedTimestamp int64                   `gorm:"not null;index"`
	CreatedAt                   time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProcessedEventModel) TableName() string {
	return "processed_stripe_events"
}

// ToDomain converts the persistence model to a domain ProcessedEvent
func (m *ProcessedEventModel) ToDomain() *domainBilling.ProcessedEvent {
	return &domainBilling.ProcessedEvent{
		EventID:   m.StripeEventID,
		EventType: m.StripeEventType,
		CreatedAt: m.StripeEventCreatedTimestamp,
	}
}

// ProcessedEventModelFromDomain creates a persistence model from a domain ProcessedEvent
func ProcessedEventModelFromDomain(e *domainBilling.ProcessedEvent) *ProcessedEventModel {
	return &ProcessedEventModel{
		StripeEventID:               e.EventID,
		StripeEventType:             e.EventType,
		StripeEventCreatedTimestamp: e.CreatedAt,
	}
}

// UsageMeterModel is the request counter of an account for one model and mode in one period
type UsageMeterModel struct {
	ID            uuid.UUID                    `gorm:"type:uuid;primary_key"`
	AccountID     uuid.UUID                    `gorm:"type:uuid;not null;index"`
	Model         string                       `gorm:"type:varchar(100);not null"`
	Mode          domainBilling.CompletionMode `gorm:"type:varchar(20);not null;default:'normal'"`
	Requests      int64                        `gorm:"not null;default:0"`
	PeriodStartAt time.Time                    `gorm:"not null;index"`
	PeriodEndAt   time.Time                    `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (UsageMeterModel) TableName() string {
	return "subscription_usage_meters"
}

// ToDomain converts the persistence model to a domain UsageMeter
func (m *UsageMeterModel) ToDomain() *domainBilling.UsageMeter {
	return &domainBilling.UsageMeter{
		AccountID: m.AccountID,
		Model:     m.Model,
		Mode:      m.Mode,
		Requests:  m.Requests,
	}
}

package billing

import "errors"

var (
	// ErrUnexpectedPayload is returned when an event's payload does not match its type
	ErrUnexpectedPayload = errors.New("unexpected event payload")

	// ErrCustomerNotResolved is returned when a provider customer cannot be mapped to a local account
	ErrCustomerNotResolved = errors.New("billing customer not found")

	// ErrUnsupportedModel is returned for a model and mode pair that has no metered price
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrMissingPeriodStart is returned when a trialing snapshot carries no period start
	ErrMissingPeriodStart = errors.New("subscription has no current period start")
)

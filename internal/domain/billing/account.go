package billing

import "github.com/google/uuid"

// Account is the read-only view of a local user account needed for reconciliation
type Account struct {
	ID      uuid.UUID
	Email   string
	IsStaff bool
}

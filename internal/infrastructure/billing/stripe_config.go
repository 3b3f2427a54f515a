package billing

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
)

// StripeConfig holds configuration for Stripe integration
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`

	// MaxNetworkRetries is the number of retries the Stripe client performs on network errors
	MaxNetworkRetries int64 `json:"max_network_retries" mapstructure:"max_network_retries"`

	// FreePriceLookupKey is the lookup key of the free plan price
	FreePriceLookupKey string `json:"free_price_lookup_key" mapstructure:"free_price_lookup_key"`

	// PaidPriceLookupKey is the lookup key of the paid plan price
	PaidPriceLookupKey string `json:"paid_price_lookup_key" mapstructure:"paid_price_lookup_key"`

	// ModelPriceLookupKeys overrides metered price lookup keys, keyed by "<model>/<mode>"
	ModelPriceLookupKeys map[string]string `json:"model_price_lookup_keys" mapstructure:"model_price_lookup_keys"`
}

// DefaultStripeConfig returns a default configuration for development/testing
func DefaultStripeConfig() *StripeConfig {
	return &StripeConfig{
		IsTestMode:         true,
		MaxNetworkRetries:  2,
		FreePriceLookupKey: "free-plan",
		PaidPriceLookupKey: "pro-plan",
	}
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	// Validate key format
	if c.IsTestMode {
		if len(c.SecretKey) > 7 && !strings.HasPrefix(c.SecretKey, "sk_test") && !strings.HasPrefix(c.SecretKey, "rk_test") {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
	} else {
		if len(c.SecretKey) > 7 && !strings.HasPrefix(c.SecretKey, "sk_live") && !strings.HasPrefix(c.SecretKey, "rk_live") {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	if c.FreePriceLookupKey == "" {
		return fmt.Errorf("stripe: free price lookup key is required")
	}
	if c.PaidPriceLookupKey == "" {
		return fmt.Errorf("stripe: paid price lookup key is required")
	}
	if c.FreePriceLookupKey == c.PaidPriceLookupKey {
		return fmt.Errorf("stripe: free and paid price lookup keys must differ")
	}
	if c.MaxNetworkRetries < 0 {
		return fmt.Errorf("stripe: max network retries cannot be negative")
	}

	return nil
}

// InitStripeClient initializes the Stripe client with the configured API key
func (c *StripeConfig) InitStripeClient() {
	stripe.Key = c.SecretKey
	stripe.DefaultLeveledLogger = &stripe.LeveledLogger{Level: stripe.LevelError}
	stripe.GetBackend(stripe.APIBackend).SetMaxNetworkRetries(c.MaxNetworkRetries)
}

package payment

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// PaysSamConfig contains configuration for the PaysSam partner API
type PaysSamConfig struct {
	// BaseURL is the API root, e.g. https://api.payssam.kr
	BaseURL string
	// MemberID identifies the academy at PaysSam
	MemberID string
	// APIKey is exchanged for short-lived access tokens
	APIKey string
	// CallbackURL is where PaysSam posts approval notifications
	CallbackURL string
	// Timeout bounds every outbound call
	Timeout time.Duration
	// TokenTTL is used when the token response carries no expiry
	TokenTTL time.Duration
	// TokenSkew refreshes tokens this long before they expire
	TokenSkew time.Duration
	// Location is the zone of appr_dt timestamps
	Location *time.Location
}

// Errors for configuration validation
var (
	ErrPaysSamMissingBaseURL  = errors.New("paysam: missing base URL")
	ErrPaysSamInvalidBaseURL  = errors.New("paysam: invalid base URL")
	ErrPaysSamMissingMemberID = errors.New("paysam: missing member ID")
	ErrPaysSamMissingAPIKey   = errors.New("paysam: missing API key")
	ErrPaysSamInvalidTimeout  = errors.New("paysam: timeout must be positive")
	ErrPaysSamInvalidTimezone = errors.New("paysam: invalid timezone")
)

// Validate validates the configuration
func (c *PaysSamConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrPaysSamMissingBaseURL
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ErrPaysSamInvalidBaseURL
	}
	if c.MemberID == "" {
		return ErrPaysSamMissingMemberID
	}
	if c.APIKey == "" {
		return ErrPaysSamMissingAPIKey
	}
	if c.Timeout <= 0 {
		return ErrPaysSamInvalidTimeout
	}
	return nil
}

// PaysSamConfigBuilder helps build PaysSamConfig
type PaysSamConfigBuilder struct {
	config PaysSamConfig
	err    error
}

// NewPaysSamConfigBuilder creates a new config builder with default timings
func NewPaysSamConfigBuilder() *PaysSamConfigBuilder {
	return &PaysSamConfigBuilder{
		config: PaysSamConfig{
			Timeout:   10 * time.Second,
			TokenTTL:  30 * time.Minute,
			TokenSkew: 30 * time.Second,
			Location:  time.UTC,
		},
	}
}

// SetBaseURL sets the API root
func (b *PaysSamConfigBuilder) SetBaseURL(baseURL string) *PaysSamConfigBuilder {
	b.config.BaseURL = baseURL
	return b
}

// SetCredentials sets the member ID and API key
func (b *PaysSamConfigBuilder) SetCredentials(memberID, apiKey string) *PaysSamConfigBuilder {
	b.config.MemberID = memberID
	b.config.APIKey = apiKey
	return b
}

// SetCallbackURL sets the notification URL sent with every issued bill
func (b *PaysSamConfigBuilder) SetCallbackURL(callbackURL string) *PaysSamConfigBuilder {
	b.config.CallbackURL = callbackURL
	return b
}

// SetTimeout sets the per-call timeout
func (b *PaysSamConfigBuilder) SetTimeout(timeout time.Duration) *PaysSamConfigBuilder {
	if timeout > 0 {
		b.config.Timeout = timeout
	}
	return b
}

// SetTokenTiming sets the fallback token lifetime and the refresh skew
func (b *PaysSamConfigBuilder) SetTokenTiming(ttl, skew time.Duration) *PaysSamConfigBuilder {
	if ttl > 0 {
		b.config.TokenTTL = ttl
	}
	if skew >= 0 {
		b.config.TokenSkew = skew
	}
	return b
}

// SetTimezone sets the zone used to read appr_dt
func (b *PaysSamConfigBuilder) SetTimezone(name string) *PaysSamConfigBuilder {
	if b.err != nil || name == "" {
		return b
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		b.err = fmt.Errorf("%w: %v", ErrPaysSamInvalidTimezone, err)
		return b
	}
	b.config.Location = loc
	return b
}

// Build returns the validated configuration
func (b *PaysSamConfigBuilder) Build() (*PaysSamConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

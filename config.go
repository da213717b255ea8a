package factorgate

import (
	"errors"
	"time"
)

// Config defines a public type used by factorgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT     JWTConfig
	Session SessionConfig
	Tenant  TenantDefaultsConfig
	Linking LinkingConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by factorgate APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by factorgate APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix     string
	SessionLifetime time.Duration
}

/*
====================================
TENANT CONFIG
====================================
*/

// TenantDefaultsConfig defines a public type used by factorgate APIs.
//
// TenantDefaultsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TenantDefaultsConfig struct {
	RedisPrefix string
	// MaxTenantIDLength bounds accepted tenant IDs. IDs are lowercase
	// alphanumeric plus hyphen.
	MaxTenantIDLength int
}

// Tenant core-config keys accepted by UpdateTenantCoreConfig. Every value is
// an integer; the defaults are restored whenever a patch is rejected.
const (
	// CoreConfigEmailVerificationTokenLifetime is an exported constant or variable used by the factor engine.
	CoreConfigEmailVerificationTokenLifetime = "email_verification_token_lifetime"
	// CoreConfigPasswordResetTokenLifetime is an exported constant or variable used by the factor engine.
	CoreConfigPasswordResetTokenLifetime = "password_reset_token_lifetime"
	// CoreConfigAccessTokenValidity is an exported constant or variable used by the factor engine.
	CoreConfigAccessTokenValidity = "access_token_validity"
	// CoreConfigRefreshTokenValidity is an exported constant or variable used by the factor engine.
	CoreConfigRefreshTokenValidity = "refresh_token_validity"
)

var coreConfigDefaults = map[string]int64{
	CoreConfigEmailVerificationTokenLifetime: 86400000,
	CoreConfigPasswordResetTokenLifetime:     3600000,
	CoreConfigAccessTokenValidity:            3600,
	CoreConfigRefreshTokenValidity:           144000,
}

/*
====================================
LINKING CONFIG
====================================
*/

// LinkingConfig defines a public type used by factorgate APIs.
//
// LinkingConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LinkingConfig struct {
	RedisPrefix string
	// ReservationTTL bounds how long a verified-contact-info reservation is
	// held while a link operation is in flight. A crashed caller releases
	// its claim after this interval.
	ReservationTTL time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by factorgate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by factorgate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "factorgate",
		},
		Session: SessionConfig{
			RedisPrefix:     "fg",
			SessionLifetime: 24 * time.Hour,
		},
		Tenant: TenantDefaultsConfig{
			RedisPrefix:       "fgt",
			MaxTenantIDLength: 64,
		},
		Linking: LinkingConfig{
			RedisPrefix:    "fgl",
			ReservationTTL: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if c.Session.SessionLifetime <= 0 {
		return errors.New("Session.SessionLifetime must be positive")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session.RedisPrefix must not be empty")
	}
	if c.Tenant.RedisPrefix == "" {
		return errors.New("Tenant.RedisPrefix must not be empty")
	}
	if c.Tenant.MaxTenantIDLength <= 0 || c.Tenant.MaxTenantIDLength > 256 {
		return errors.New("Tenant.MaxTenantIDLength out of range")
	}
	if c.Linking.RedisPrefix == "" {
		return errors.New("Linking.RedisPrefix must not be empty")
	}
	if c.Linking.ReservationTTL <= 0 || c.Linking.ReservationTTL > 10*time.Minute {
		return errors.New("Linking.ReservationTTL out of range")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive when audit is enabled")
	}
	return nil
}

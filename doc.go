// Package factorgate provides a multi-factor authentication requirement
// engine with automatic account-linking decisions, tenant-scoped factor
// policy resolution, and Redis-backed session factor state.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// factorgate is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (MFAInfo, SignInUpResult, TenantConfig, etc.). Session
// claim encoding and token issuance live under session/ and jwt/; ID
// generation lives under internal/ and is never exported.
//
// Authentication credentials are never validated here. Recipes (password
// check, OTP delivery and consumption, TOTP verification, third-party OAuth)
// are external collaborators: by the time a login method reaches
// [Engine.SignInUp] the credential has already been accepted by its recipe.
// The engine owns only the policy layer above that: which factors a tenant
// accepts first, which secondary factors a session still owes, and whether a
// freshly authenticated login method may be merged into an existing primary
// user.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or claim encoding details in its
//     public API.
//   - Hold user, login-method, or metadata state. All of it belongs to the
//     caller behind [UserProvider].
//   - Retry transient store failures. Retry policy belongs to the store
//     client; the only in-engine retry is the single candidate-primary
//     re-resolution after a linking conflict.
//
// # Outcome contract
//
// Expected business outcomes (tenant already exists, linking not allowed,
// additional factor required) are returned as named statuses inside tagged
// result structs, never as Go errors. Go errors are reserved for transient
// store failures and for configuration impossibilities such as a required
// factor the user can never satisfy.
package factorgate

// Package session provides Redis-backed persistence for session claim
// documents: who authenticated, under which tenant, and which factors the
// session has completed.
//
// # Claim document
//
// The fixed part of a session (handle, user, tenant, timestamps) is stored
// as a versioned JSON blob. Completed factors live in a separate Redis hash
// keyed by factor tag so that two concurrent factor completions touch
// different hash fields and never overwrite each other; the merge itself runs
// as a Lua script so a completion can never attach to a session that no
// longer exists.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT decide which factors are required, evaluate tenant policy, or
// issue tokens. Those responsibilities belong to the Engine and the jwt
// package.
//
// # What this package must NOT do
//
//   - Import factorgate or jwt (no upward imports).
//   - Interpret factor tags beyond treating them as opaque hash fields.
//   - Rewind a completion timestamp: merges keep the newest value.
package session

package factorgate

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is an exported constant or variable used by the factor engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is an exported constant or variable used by the factor engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is an exported constant or variable used by the factor engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenInvalid is an exported constant or variable used by the factor engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrLinkConflict is an exported constant or variable used by the factor engine.
	ErrLinkConflict = errors.New("login method already linked to a different primary user")
	// ErrPolicyContract is an exported constant or variable used by the factor engine.
	ErrPolicyContract = errors.New("shouldDoAutomaticAccountLinking returned false when creating primary user but shouldTryLinkingWithSessionUser is true")
	// ErrFactorUnsatisfiable is an exported constant or variable used by the factor engine.
	ErrFactorUnsatisfiable = errors.New("required factor cannot be satisfied by user")
	// ErrTenantStoreUnavailable is an exported constant or variable used by the factor engine.
	ErrTenantStoreUnavailable = errors.New("tenant store backend unavailable")
	// ErrSessionStoreUnavailable is an exported constant or variable used by the factor engine.
	ErrSessionStoreUnavailable = errors.New("session store backend unavailable")
	// ErrLinkStoreUnavailable is an exported constant or variable used by the factor engine.
	ErrLinkStoreUnavailable = errors.New("link reservation backend unavailable")
)

// Status is a named, machine-checkable outcome string. Callers branch on
// these values; they are part of the wire contract and must stay stable.
type Status string

const (
	// StatusOK is an exported constant or variable used by the factor engine.
	StatusOK Status = "OK"
	// StatusUnknownTenant is an exported constant or variable used by the factor engine.
	StatusUnknownTenant Status = "UNKNOWN_TENANT_ERROR"
	// StatusInvalidTenantID is an exported constant or variable used by the factor engine.
	StatusInvalidTenantID Status = "INVALID_TENANT_ID_ERROR"
	// StatusTenantIDAlreadyExists is an exported constant or variable used by the factor engine.
	StatusTenantIDAlreadyExists Status = "TENANT_ID_ALREADY_EXISTS_ERROR"
	// StatusCannotDeletePublicTenant is an exported constant or variable used by the factor engine.
	StatusCannotDeletePublicTenant Status = "CANNOT_DELETE_PUBLIC_TENANT_ERROR"
	// StatusInvalidConfig is an exported constant or variable used by the factor engine.
	StatusInvalidConfig Status = "INVALID_CONFIG_ERROR"
	// StatusSignInUpNotAllowed is an exported constant or variable used by the factor engine.
	StatusSignInUpNotAllowed Status = "SIGN_IN_UP_NOT_ALLOWED"
	// StatusFirstFactorNotAllowed is an exported constant or variable used by the factor engine.
	StatusFirstFactorNotAllowed Status = "FIRST_FACTOR_NOT_ALLOWED_ERROR"
	// StatusFactorSetupNotAllowed is an exported constant or variable used by the factor engine.
	StatusFactorSetupNotAllowed Status = "FACTOR_SETUP_NOT_ALLOWED_ERROR"
)

// LinkReasonCode is the stable numbered reason attached to a
// SIGN_IN_UP_NOT_ALLOWED rejection. Each code denotes a distinct conflict
// class; clients branch on the code, support staff read the message.
type LinkReasonCode string

const (
	// ReasonUnverifiedIdentityConflict is an exported constant or variable used by the factor engine.
	ReasonUnverifiedIdentityConflict LinkReasonCode = "ERR_CODE_013"
	// ReasonCrossPrimaryFactorCompletion is an exported constant or variable used by the factor engine.
	ReasonCrossPrimaryFactorCompletion LinkReasonCode = "ERR_CODE_017"
	// ReasonSameTenantVerificationConflict is an exported constant or variable used by the factor engine.
	ReasonSameTenantVerificationConflict LinkReasonCode = "ERR_CODE_018"
	// ReasonSecondFactorCrossPrimary is an exported constant or variable used by the factor engine.
	ReasonSecondFactorCrossPrimary LinkReasonCode = "ERR_CODE_022"
)

// Rejection messages are asserted verbatim by downstream test suites. Do not
// reword them.
var linkReasonMessages = map[LinkReasonCode]string{
	ReasonUnverifiedIdentityConflict:     "Cannot sign in / up due to security reasons. Please try a different login method or contact support. (ERR_CODE_013)",
	ReasonCrossPrimaryFactorCompletion:   "Cannot complete the factor because the login method belongs to a different primary account. Please contact support. (ERR_CODE_017)",
	ReasonSameTenantVerificationConflict: "Cannot sign in / up because the contact info is already verified on another account in this tenant. Please contact support. (ERR_CODE_018)",
	ReasonSecondFactorCrossPrimary:       "Cannot set up the second factor because it is associated with a different primary account. Please contact support. (ERR_CODE_022)",
}

// LinkingRejection is the payload of a SIGN_IN_UP_NOT_ALLOWED outcome. It is
// carried inside result structs, never thrown as an error.
type LinkingRejection struct {
	Code    LinkReasonCode
	Message string
}

func newLinkingRejection(code LinkReasonCode) *LinkingRejection {
	msg, ok := linkReasonMessages[code]
	if !ok {
		msg = fmt.Sprintf("Cannot sign in / up due to security reasons. Please contact support. (%s)", code)
	}
	return &LinkingRejection{Code: code, Message: msg}
}

// UnsatisfiableFactorError is the fatal configuration-error form of
// [ErrFactorUnsatisfiable]. It names the offending factor so operators can
// fix the tenant or user configuration; no client retry can resolve it.
type UnsatisfiableFactorError struct {
	Factor FactorID
	UserID string
}

// Error describes the error operation and its observable behavior.
//
// Error may return an error when input validation, dependency calls, or security checks fail.
// Error does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *UnsatisfiableFactorError) Error() string {
	return fmt.Sprintf("required factor %q cannot be satisfied by user %q: no usable contact info or recipe configuration", e.Factor, e.UserID)
}

// Unwrap describes the unwrap operation and its observable behavior.
//
// Unwrap may return an error when input validation, dependency calls, or security checks fail.
// Unwrap does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *UnsatisfiableFactorError) Unwrap() error {
	return ErrFactorUnsatisfiable
}

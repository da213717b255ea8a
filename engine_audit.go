package factorgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignInUpSuccess       = "sign_in_up_success"
	auditEventSignInUpRejected      = "sign_in_up_rejected"
	auditEventFirstFactorDenied     = "first_factor_denied"
	auditEventLinkEstablished       = "link_established"
	auditEventLinkRejected          = "link_rejected"
	auditEventLinkConflictRetry     = "link_conflict_retry"
	auditEventFactorCompleted       = "factor_completed"
	auditEventFactorRemoved         = "factor_removed"
	auditEventComplianceChecked     = "compliance_checked"
	auditEventComplianceConfigError = "compliance_config_error"
	auditEventSessionCreated        = "session_created"
	auditEventSessionRevoked        = "session_revoked"
	auditEventTenantCreated         = "tenant_created"
	auditEventTenantUpdated         = "tenant_updated"
	auditEventTenantDeleted         = "tenant_deleted"
	auditEventTenantDeleteDenied    = "tenant_delete_denied"
	auditEventTenantConfigUpdated   = "tenant_config_updated"
	auditEventTenantConfigRejected  = "tenant_config_rejected"
)

// AuditErrorCode defines a public type used by factorgate APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrSessionNotFound     AuditErrorCode = "session_not_found"
	auditErrLinkConflict        AuditErrorCode = "link_conflict"
	auditErrPolicyContract      AuditErrorCode = "policy_contract_violation"
	auditErrFactorUnsatisfiable AuditErrorCode = "factor_unsatisfiable"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionHandle string,
	factor FactorID,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		TenantID:      tenantID,
		SessionHandle: sessionHandle,
		Factor:        string(factor),
		Success:       success,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrLinkConflict):
		return auditErrLinkConflict
	case errors.Is(err, ErrPolicyContract):
		return auditErrPolicyContract
	case errors.Is(err, ErrFactorUnsatisfiable):
		return auditErrFactorUnsatisfiable
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTenantStoreUnavailable),
		errors.Is(err, ErrSessionStoreUnavailable),
		errors.Is(err, ErrLinkStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

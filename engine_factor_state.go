package factorgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/factorgate/factorgate/jwt"
	"github.com/factorgate/factorgate/session"
	"github.com/redis/go-redis/v9"
)

// GetSession describes the getsession operation and its observable behavior.
//
// GetSession may return an error when input validation, dependency calls, or security checks fail.
// GetSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetSession(ctx context.Context, tenantID, sessionHandle string) (*session.Session, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.sessionStore.Get(ctx, tenantID, sessionHandle)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
		}
		return nil, err
	}
	return sess, nil
}

// CompleteFactor records a factor completion on an existing session. The
// write is a keep-newest merge performed atomically in the store, so two
// concurrent completions of different factors never lose each other and a
// stale timestamp never overwrites a fresher one.
func (e *Engine) CompleteFactor(ctx context.Context, tenantID, sessionHandle string, factor FactorID) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if !KnownFactor(factor) {
		return fmt.Errorf("unknown factor %q", factor)
	}

	err := e.sessionStore.CompleteFactor(ctx, tenantID, sessionHandle, string(factor), time.Now().Unix())
	if err != nil {
		if errors.Is(err, session.ErrSessionGone) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}

	e.metricInc(MetricFactorCompleted)
	e.emitAudit(ctx, auditEventFactorCompleted, true, "", tenantID, sessionHandle, factor, nil, nil)
	return nil
}

// RemoveCompletedFactor deletes one factor completion from the session.
// Returns false when the factor was not recorded; removal of an absent
// factor is not an error.
func (e *Engine) RemoveCompletedFactor(ctx context.Context, tenantID, sessionHandle string, factor FactorID) (bool, error) {
	if e == nil || e.sessionStore == nil {
		return false, ErrEngineNotReady
	}

	removed, err := e.sessionStore.RemoveFactor(ctx, tenantID, sessionHandle, string(factor))
	if err != nil {
		if errors.Is(err, session.ErrSessionGone) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	if removed {
		e.metricInc(MetricFactorRemoved)
		e.emitAudit(ctx, auditEventFactorRemoved, true, "", tenantID, sessionHandle, factor, nil, nil)
	}
	return removed, nil
}

// CheckCompliance re-evaluates the session against the requirement set
// currently in force. Tenant or user requirement changes made after the
// session was created are picked up here: a previously compliant session
// can come back pending.
func (e *Engine) CheckCompliance(ctx context.Context, tenantID, sessionHandle string) (ComplianceResult, error) {
	if e == nil || e.userProvider == nil {
		return ComplianceResult{}, ErrEngineNotReady
	}

	sess, err := e.GetSession(ctx, tenantID, sessionHandle)
	if err != nil {
		return ComplianceResult{}, err
	}
	user, err := e.userProvider.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return ComplianceResult{}, err
	}

	info, err := e.ComputeMFAInfo(ctx, sess, tenantID, user)
	if err != nil {
		if errors.Is(err, ErrFactorUnsatisfiable) {
			e.metricInc(MetricComplianceConfigError)
		}
		return ComplianceResult{}, err
	}

	result := ComplianceResult{State: ComplianceCompliant, Pending: info.Factors.Next}
	if len(info.Factors.Next) > 0 {
		result.State = ComplianceFactorsPending
		e.metricInc(MetricCompliancePending)
	} else {
		e.metricInc(MetricComplianceCompliant)
	}
	e.emitAudit(ctx, auditEventComplianceChecked, result.State == ComplianceCompliant, user.ID, tenantID, sessionHandle, "", nil, func() map[string]string {
		return map[string]string{"pending": fmt.Sprintf("%d", len(result.Pending))}
	})
	return result, nil
}

// RevokeSession deletes the session and its factor state. Revoking a
// session that is already gone is a no-op.
func (e *Engine) RevokeSession(ctx context.Context, tenantID, sessionHandle string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.Delete(ctx, tenantID, sessionHandle); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", tenantID, sessionHandle, "", nil, nil)
	return nil
}

// RevokeAllSessions revokes every live session of one user in the tenant.
func (e *Engine) RevokeAllSessions(ctx context.Context, tenantID, userID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, tenantID, "", "", nil, nil)
	return nil
}

// IssueSessionToken mints a fresh access token reflecting the session's
// current factor state. Clients call it after completing a factor so the
// token's claims catch up with the store.
func (e *Engine) IssueSessionToken(ctx context.Context, tenantID, sessionHandle string) (string, error) {
	sess, err := e.GetSession(ctx, tenantID, sessionHandle)
	if err != nil {
		return "", err
	}
	return e.jwtManager.CreateSessionToken(
		sess.UserID,
		sess.TenantID,
		sess.SessionHandle,
		sess.RecipeUserID,
		sess.CompletedFactors,
	)
}

// VerifySessionToken parses and verifies an access token, then confirms the
// session behind it is still live. A structurally valid token whose session
// was revoked fails with [ErrSessionNotFound].
func (e *Engine) VerifySessionToken(ctx context.Context, tokenStr string) (*jwt.SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseSessionToken(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if _, err := e.GetSession(ctx, claims.TID, claims.SH); err != nil {
		return nil, err
	}
	return claims, nil
}

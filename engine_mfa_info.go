package factorgate

import (
	"context"
	"errors"
	"time"

	"github.com/factorgate/factorgate/session"
)

// ComputeMFAInfo evaluates the requirement state of one session: which
// factors the user must still complete, which they already have set up, and
// which they are allowed to set up given the initialized recipes and their
// known contact info.
//
// The computation is read-only. A required factor that the user can neither
// complete nor set up is a configuration fault and surfaces as a fatal
// [UnsatisfiableFactorError] rather than an empty requirement list.
func (e *Engine) ComputeMFAInfo(ctx context.Context, sess *session.Session, tenantID string, user User) (MFAInfo, error) {
	if e == nil || e.userProvider == nil {
		return MFAInfo{}, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricMFAInfoLatency, time.Since(start))
		}
	}()

	tenant, err := e.getOrMaterializeTenant(ctx, tenantID)
	if err != nil {
		return MFAInfo{}, err
	}

	userRequired, err := e.userProvider.GetRequiredSecondaryFactors(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return MFAInfo{}, err
	}

	completed := make(map[FactorID]int64, len(sess.CompletedFactors))
	for f, at := range sess.CompletedFactors {
		completed[FactorID(f)] = at
	}

	hasEmail, hasPhone := userContactChannels(user)
	alreadySetup := e.factorsAlreadySetup(user, sess)
	allowedToSetup := e.factorsAllowedToSetup(tenant, user, hasEmail, hasPhone)

	var next *factorSet
	if e.mfaOverride != nil {
		next = &factorSet{}
		forced := e.mfaOverride(MFAOverrideInput{
			User:             user,
			TenantID:         tenantID,
			CompletedFactors: completed,
			TenantRequired:   append([]FactorID(nil), tenant.RequiredSecondaryFactors...),
			UserRequired:     append([]FactorID(nil), userRequired...),
			AllowedToSetup:   allowedToSetup.list(),
			UserContext:      UserContextFromContext(ctx),
		})
		for _, f := range forced {
			if KnownFactor(f) {
				next.add(f)
			}
		}
	} else {
		required := &factorSet{}
		for _, f := range tenant.RequiredSecondaryFactors {
			required.add(f)
		}
		for _, f := range userRequired {
			required.add(f)
		}

		next = &factorSet{}
		for _, f := range required.list() {
			if _, done := completed[f]; done {
				continue
			}
			if !alreadySetup.has(f) && !allowedToSetup.has(f) {
				e.emitAudit(ctx, auditEventComplianceConfigError, false, user.ID, tenantID, sess.SessionHandle, f, ErrFactorUnsatisfiable, nil)
				return MFAInfo{}, &UnsatisfiableFactorError{Factor: f, UserID: user.ID}
			}
			next.add(f)
		}
	}

	return MFAInfo{
		Factors: MFAFactorsInfo{
			Next:           next.list(),
			AlreadySetup:   alreadySetup.list(),
			AllowedToSetup: allowedToSetup.list(),
		},
		Emails:       contactValuesByRecipe(e.recipes, user, ChannelEmail),
		PhoneNumbers: contactValuesByRecipe(e.recipes, user, ChannelPhone),
	}, nil
}

// factorsAlreadySetup derives the set of factors the user can complete
// without new setup. Passwordless variants count as set up for any contact
// value already on the user; TOTP setup state is not stored here, so a TOTP
// completion on the session is the only evidence of an enrolled device.
func (e *Engine) factorsAlreadySetup(user User, sess *session.Session) *factorSet {
	out := &factorSet{}
	hasEmail, hasPhone := userContactChannels(user)

	for _, lm := range user.LoginMethods {
		if _, ok := e.recipeInitialized(lm.RecipeID); !ok {
			continue
		}
		switch lm.RecipeID {
		case RecipeEmailPassword:
			out.add(FactorEmailPassword)
		case RecipeThirdParty:
			out.add(FactorThirdParty)
		}
	}

	for _, r := range e.recipes {
		if r.ID != RecipePasswordless {
			continue
		}
		for _, f := range FactorsForRecipe(r) {
			switch ChannelForFactor(f) {
			case ChannelEmail:
				if hasEmail {
					out.add(f)
				}
			case ChannelPhone:
				if hasPhone {
					out.add(f)
				}
			}
		}
	}

	if sess != nil && sess.HasCompleted(string(FactorTOTP)) {
		out.add(FactorTOTP)
	}
	return out
}

// factorsAllowedToSetup expands every initialized recipe, keeps the factors
// whose contact prerequisite the user satisfies, then unions the tenant's
// valid first factors. A factor a user could sign in with is always settable
// even when the contact channel is not on the account yet; setting it up is
// how the channel gets added.
func (e *Engine) factorsAllowedToSetup(tenant *TenantConfig, user User, hasEmail, hasPhone bool) *factorSet {
	out := &factorSet{}
	for _, r := range e.recipes {
		for _, f := range FactorsForRecipe(r) {
			switch ChannelForFactor(f) {
			case ChannelNone:
				out.add(f)
			case ChannelEmail:
				if hasEmail {
					out.add(f)
				}
			case ChannelPhone:
				if hasPhone {
					out.add(f)
				}
			}
		}
	}
	for _, f := range resolveFirstFactors(tenant, e.recipes) {
		out.add(f)
	}
	return out
}

func userContactChannels(user User) (hasEmail, hasPhone bool) {
	for _, lm := range user.LoginMethods {
		if lm.Email != "" {
			hasEmail = true
		}
		if lm.PhoneNumber != "" {
			hasPhone = true
		}
	}
	return hasEmail, hasPhone
}

// contactValuesByRecipe groups the user's distinct contact values under each
// initialized recipe that can consume that channel. Order follows login
// method order, oldest first.
func contactValuesByRecipe(recipes []Recipe, user User, channel ContactChannel) map[RecipeID][]string {
	var values []string
	seen := make(map[string]struct{})
	for _, lm := range user.LoginMethods {
		v := lm.Email
		if channel == ChannelPhone {
			v = lm.PhoneNumber
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	out := make(map[RecipeID][]string, len(recipes))
	for _, r := range recipes {
		for _, f := range FactorsForRecipe(r) {
			if ChannelForFactor(f) == channel {
				out[r.ID] = append([]string(nil), values...)
				break
			}
		}
	}
	return out
}

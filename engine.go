package factorgate

import (
	"github.com/factorgate/factorgate/jwt"
	"github.com/factorgate/factorgate/session"
)

// Engine defines a public type used by factorgate APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	recipes       []Recipe
	tenantStore   *tenantStore
	sessionStore  *session.Store
	linkStore     *linkReservationStore
	audit         *auditDispatcher
	metrics       *Metrics
	jwtManager    *jwt.Manager
	userProvider  UserProvider
	linkingPolicy LinkingPolicy
	mfaOverride   MFARequirementsOverride
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Recipes returns the immutable recipe snapshot the engine was built with.
func (e *Engine) Recipes() []Recipe {
	out := make([]Recipe, len(e.recipes))
	copy(out, e.recipes)
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) recipeInitialized(id RecipeID) (Recipe, bool) {
	for _, r := range e.recipes {
		if r.ID == id {
			return r, true
		}
	}
	return Recipe{}, false
}

// factorSet is a small ordered set of factor IDs. Order is insertion order;
// membership is linear. Requirement lists are tiny, so no map is needed.
type factorSet struct {
	items []FactorID
}

func (s *factorSet) add(id FactorID) {
	if s.has(id) {
		return
	}
	s.items = append(s.items, id)
}

func (s *factorSet) has(id FactorID) bool {
	for _, f := range s.items {
		if f == id {
			return true
		}
	}
	return false
}

func (s *factorSet) list() []FactorID {
	if s.items == nil {
		return []FactorID{}
	}
	return s.items
}

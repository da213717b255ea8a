package factorgate

import (
	"context"
	"errors"
)

// ResolveFirstFactorsResult defines a public type used by factorgate APIs.
//
// ResolveFirstFactorsResult instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ResolveFirstFactorsResult struct {
	Status       Status
	FirstFactors []FactorID
}

// ResolveFirstFactors computes the effective ordered first-factor set for a
// tenant against the recipes initialized in-process. An unknown tenant is a
// named outcome, not an error.
func (e *Engine) ResolveFirstFactors(ctx context.Context, tenantID string) (ResolveFirstFactorsResult, error) {
	if e == nil || e.tenantStore == nil {
		return ResolveFirstFactorsResult{}, ErrEngineNotReady
	}

	cfg, err := e.getOrMaterializeTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, errTenantNotFound) {
			return ResolveFirstFactorsResult{Status: StatusUnknownTenant}, nil
		}
		return ResolveFirstFactorsResult{}, err
	}

	return ResolveFirstFactorsResult{
		Status:       StatusOK,
		FirstFactors: resolveFirstFactors(cfg, e.recipes),
	}, nil
}

// resolveFirstFactors is the pure resolution core.
//
// An explicit first-factor list is filtered, never failed: factors whose
// backing recipe is not initialized, or whose contact-method/flow-type
// combination the recipe cannot produce, are dropped silently. Partial
// config must degrade, not error. A nil list derives the set from every
// initialized first-factor capable recipe, expanded in recipe
// initialization order with the catalog's fixed variant order, so the
// output is stable across calls.
func resolveFirstFactors(cfg *TenantConfig, recipes []Recipe) []FactorID {
	var out factorSet

	if cfg.FirstFactors != nil {
		for _, factor := range cfg.FirstFactors {
			recipeID, known := RecipeForFactor(factor)
			if !known || !firstFactorCapable(recipeID) {
				continue
			}
			recipe, initialized := findRecipe(recipes, recipeID)
			if !initialized || !recipeProducesFactor(recipe, factor) {
				continue
			}
			out.add(factor)
		}
		return out.list()
	}

	for _, recipe := range recipes {
		if !firstFactorCapable(recipe.ID) {
			continue
		}
		for _, factor := range FactorsForRecipe(recipe) {
			out.add(factor)
		}
	}
	return out.list()
}

func findRecipe(recipes []Recipe, id RecipeID) (Recipe, bool) {
	for _, r := range recipes {
		if r.ID == id {
			return r, true
		}
	}
	return Recipe{}, false
}

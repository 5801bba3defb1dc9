package ratelimit

import (
	"time"

	"github.com/admetric/backend/internal/infrastructure/config"
)

// Resource types subject to quota enforcement.
const (
	ResourceAPI       = "api"
	ResourceCampaigns = "campaigns"
	ResourceMessaging = "messaging"
	ResourceExports   = "exports"
	ResourceWebhooks  = "webhooks"
)

const day = 24 * time.Hour

// defaultPlans is the built-in quota table. Configuration overlays individual
// entries; a resource absent from a plan is unlimited for that plan.
func defaultPlans() map[string]map[string]config.ResourceLimit {
	return map[string]map[string]config.ResourceLimit{
		"free": {
			ResourceAPI:       {Requests: 100, Window: time.Minute},
			ResourceCampaigns: {Requests: 25, Window: time.Hour},
			ResourceMessaging: {Requests: 50, Window: day},
			ResourceExports:   {Requests: 2, Window: day},
			ResourceWebhooks:  {Requests: 100, Window: day},
		},
		"starter": {
			ResourceAPI:       {Requests: 500, Window: time.Minute},
			ResourceCampaigns: {Requests: 100, Window: time.Hour},
			ResourceMessaging: {Requests: 1000, Window: day},
			ResourceExports:   {Requests: 10, Window: day},
			ResourceWebhooks:  {Requests: 1000, Window: day},
		},
		"professional": {
			ResourceAPI:       {Requests: 2000, Window: time.Minute},
			ResourceCampaigns: {Requests: 500, Window: time.Hour},
			ResourceMessaging: {Requests: 10000, Window: day},
			ResourceExports:   {Requests: 50, Window: day},
			ResourceWebhooks:  {Requests: 10000, Window: day},
		},
		"enterprise": {
			ResourceAPI: {Requests: 10000, Window: time.Minute},
		},
	}
}

// PlanLimits resolves a (plan, resource) pair to its quota.
type PlanLimits struct {
	plans map[string]map[string]config.ResourceLimit
}

// NewPlanLimits builds the quota table from the built-in defaults overlaid
// with configured entries. Configuration wins per entry, not per plan, so
// overriding free.api does not wipe the other free limits.
func NewPlanLimits(cfg config.RateLimitConfig) *PlanLimits {
	plans := defaultPlans()
	for plan, resources := range cfg.Plans {
		if _, ok := plans[plan]; !ok {
			plans[plan] = make(map[string]config.ResourceLimit)
		}
		for resource, limit := range resources {
			plans[plan][resource] = limit
		}
	}
	return &PlanLimits{plans: plans}
}

// Limit returns the quota for the plan and resource. Unknown plans fall back
// to the free plan's quotas, the safe direction for a plan name that slipped
// through validation. The second return is false when the resource is
// unlimited for the plan.
func (p *PlanLimits) Limit(plan, resource string) (config.ResourceLimit, bool) {
	resources, ok := p.plans[plan]
	if !ok {
		resources, ok = p.plans["free"]
		if !ok {
			return config.ResourceLimit{}, false
		}
	}
	limit, ok := resources[resource]
	if !ok || limit.Requests <= 0 {
		return config.ResourceLimit{}, false
	}
	return limit, true
}

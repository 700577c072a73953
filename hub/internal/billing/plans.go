package billing

import "github.com/agroops/agrohub/hub/internal/store"

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

// PlanLimits defines the resource limits for a plan tier.
type PlanLimits struct {
	MaxUsers  int // -1 = unlimited
	MaxFields int // -1 = unlimited
}

// Plans maps plan tiers to their limits. The table is static; tenants copy it
// into their own max_* columns at creation and on plan change.
var Plans = map[store.Plan]PlanLimits{
	store.PlanBasic:        {MaxUsers: 10, MaxFields: 5},
	store.PlanProfessional: {MaxUsers: 30, MaxFields: 20},
	store.PlanEnterprise:   {MaxUsers: Unlimited, MaxFields: Unlimited},
}

// GetLimits returns the limits for a plan and whether the plan is known.
func GetLimits(plan store.Plan) (PlanLimits, bool) {
	l, ok := Plans[plan]
	return l, ok
}

// Usage is one counter as seen by callers.
type Usage struct {
	Max       int `json:"max"`
	Current   int `json:"current"`
	Available int `json:"available"` // -1 when unlimited
}

// Limits is the quota view of a tenant.
type Limits struct {
	Plan   store.Plan `json:"plan"`
	Users  Usage      `json:"users"`
	Fields Usage      `json:"fields"`
}

// LimitsOf derives the quota view from a tenant row.
func LimitsOf(t *store.Tenant) Limits {
	return Limits{
		Plan:   t.Plan,
		Users:  usage(t.MaxUsers, t.CurrentUsers),
		Fields: usage(t.MaxFields, t.CurrentFields),
	}
}

func usage(limit, current int) Usage {
	u := Usage{Max: limit, Current: current, Available: Unlimited}
	if limit >= 0 {
		u.Available = limit - current
		if u.Available < 0 {
			u.Available = 0
		}
	}
	return u
}

// Full reports whether no more units fit under the limit.
func (u Usage) Full() bool {
	return u.Max >= 0 && u.Current >= u.Max
}

package opscache

import (
	"sort"

	"github.com/unkn0wn-root/opscache/datastore"
)

// Rule declares which cached entities depend on Entity and for which
// mutation kinds they must be invalidated along with it.
type Rule struct {
	Entity       string
	Dependencies []string
	InvalidateOn datastore.KindSet
}

// Rules is an immutable rule table. A nil *Rules has no rules.
type Rules struct {
	byEntity map[string]Rule
}

// NewRules builds a table. A later rule for the same entity replaces an earlier one.
func NewRules(rules ...Rule) *Rules {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		deps := make([]string, len(r.Dependencies))
		copy(deps, r.Dependencies)
		r.Dependencies = deps
		m[r.Entity] = r
	}
	return &Rules{byEntity: m}
}

// DefaultRules is the dependency graph of the back office.
func DefaultRules() *Rules {
	return NewRules(
		Rule{
			Entity:       "drivers",
			Dependencies: []string{"driver_attendance", "driver_daily_performance"},
			InvalidateOn: datastore.AllKinds,
		},
		Rule{
			Entity:       "driver_daily_performance",
			InvalidateOn: datastore.KindsOf(datastore.Insert, datastore.Update),
		},
		Rule{
			Entity:       "attendance",
			Dependencies: []string{"driver_daily_performance", "attendance_overview"},
			InvalidateOn: datastore.AllKinds,
		},
		Rule{
			Entity:       "accounting_entries",
			Dependencies: []string{"profit_and_loss", "payments"},
			InvalidateOn: datastore.AllKinds,
		},
		Rule{
			Entity:       "employee_records",
			Dependencies: []string{"drivers"},
			InvalidateOn: datastore.KindsOf(datastore.Update, datastore.Delete),
		},
	)
}

// DependentsOf returns the dependents of entity for kind; empty when entity
// has no rule or the rule does not list kind. The result is a fresh slice.
func (r *Rules) DependentsOf(entity string, kind datastore.Kind) []string {
	if r == nil {
		return []string{}
	}
	rule, ok := r.byEntity[entity]
	if !ok || !rule.InvalidateOn.Has(kind) {
		return []string{}
	}
	out := make([]string, len(rule.Dependencies))
	copy(out, rule.Dependencies)
	return out
}

// Rule returns the rule for entity.
func (r *Rules) Rule(entity string) (Rule, bool) {
	if r == nil {
		return Rule{}, false
	}
	rule, ok := r.byEntity[entity]
	if ok {
		rule.Dependencies = append([]string(nil), rule.Dependencies...)
	}
	return rule, ok
}

// Entities lists the entities that have a rule, sorted.
func (r *Rules) Entities() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byEntity))
	for e := range r.byEntity {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

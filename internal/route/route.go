// Package route maps requests to caching policies. A Table holds an ordered
// list of pattern rules; the first rule whose pattern matches the request
// URL path decides the policy, the target partition role, and the network
// timeout. Resolution is pure: a fixed table and a fixed request always
// produce the same decision, with table order as the tie-break.
package route

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/Ashour158/Desk-sub003/internal/partition"
)

// Policy identifies one of the four caching strategies.
type Policy string

const (
	// PolicyCacheFirst serves from the cache and only fetches on a miss.
	PolicyCacheFirst Policy = "cache-first"
	// PolicyNetworkFirst races the network against a timeout and falls back
	// to the cache.
	PolicyNetworkFirst Policy = "network-first"
	// PolicyStaleWhileRevalidate serves a cached value immediately and
	// refreshes it in the background.
	PolicyStaleWhileRevalidate Policy = "stale-while-revalidate"
	// PolicyDefault fetches from the network without a timeout and falls
	// back to the cache.
	PolicyDefault Policy = "default"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyCacheFirst, PolicyNetworkFirst, PolicyStaleWhileRevalidate, PolicyDefault:
		return true
	}
	return false
}

// DefaultNetworkTimeout bounds the network leg of the network-first policy
// when a rule does not set its own timeout.
const DefaultNetworkTimeout = 5 * time.Second

// Rule binds a URL path pattern to a policy, a target partition role, and an
// optional timeout. A zero timeout means the policy default.
type Rule struct {
	Pattern *regexp.Regexp
	Policy  Policy
	Role    partition.Role
	Timeout time.Duration
}

// Decision is the routing outcome for one request.
type Decision struct {
	Policy  Policy
	Role    partition.Role
	Timeout time.Duration
}

// Table is an ordered, read-only rule set.
type Table struct {
	rules []Rule
}

// NewTable builds a table from rules, validating each one. Rule order is
// preserved: Resolve returns the first match.
func NewTable(rules []Rule) (*Table, error) {
	for i, rule := range rules {
		if rule.Pattern == nil {
			return nil, fmt.Errorf("rule %d: pattern must not be nil", i)
		}
		if !rule.Policy.Valid() {
			return nil, fmt.Errorf("rule %d: unknown policy %q", i, rule.Policy)
		}
		if !rule.Role.Valid() {
			return nil, fmt.Errorf("rule %d: unknown partition role %q", i, rule.Role)
		}
		if rule.Timeout < 0 {
			return nil, fmt.Errorf("rule %d: timeout must not be negative", i)
		}
	}

	table := &Table{rules: make([]Rule, len(rules))}
	copy(table.rules, rules)
	return table, nil
}

// DefaultTable returns the help-desk routing rules:
//
//   - static asset extensions are cache-first against the static partition
//   - /api/ paths are network-first against the api partition
//   - HTML pages and extensionless paths (client-side routes) are
//     stale-while-revalidate against the dynamic partition
//   - everything else uses the default policy against the core partition
func DefaultTable() *Table {
	return DefaultTableWithTimeout(DefaultNetworkTimeout)
}

// DefaultTableWithTimeout is DefaultTable with the network-first race
// bound to the given timeout instead of DefaultNetworkTimeout.
func DefaultTableWithTimeout(timeout time.Duration) *Table {
	return &Table{rules: DefaultRules(timeout)}
}

// DefaultRules returns the default rule set as a slice so callers can
// prepend rules of their own before building a table. A non-positive
// timeout means DefaultNetworkTimeout.
func DefaultRules(timeout time.Duration) []Rule {
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return []Rule{
		{
			Pattern: regexp.MustCompile(`\.(?:js|css|png|jpe?g|gif|svg|ico|woff2?|ttf|eot|map)$`),
			Policy:  PolicyCacheFirst,
			Role:    partition.RoleStatic,
		},
		{
			Pattern: regexp.MustCompile(`^/api/`),
			Policy:  PolicyNetworkFirst,
			Role:    partition.RoleAPI,
			Timeout: timeout,
		},
		{
			Pattern: regexp.MustCompile(`(?:^/[^.]*$|\.html?$)`),
			Policy:  PolicyStaleWhileRevalidate,
			Role:    partition.RoleDynamic,
		},
		{
			Pattern: regexp.MustCompile(`.`), // catch-all
			Policy:  PolicyDefault,
			Role:    partition.RoleCore,
		},
	}
}

// Resolve evaluates the rules in order against the request URL path and
// returns the first match. When no rule matches, the default policy against
// the core partition is returned so that resolution is total. A matched
// network-first rule with no timeout gets DefaultNetworkTimeout.
func (t *Table) Resolve(req *http.Request) Decision {
	path := ""
	if req != nil && req.URL != nil {
		path = req.URL.Path
	}

	for _, rule := range t.rules {
		if !rule.Pattern.MatchString(path) {
			continue
		}

		decision := Decision{
			Policy:  rule.Policy,
			Role:    rule.Role,
			Timeout: rule.Timeout,
		}
		if decision.Policy == PolicyNetworkFirst && decision.Timeout == 0 {
			decision.Timeout = DefaultNetworkTimeout
		}
		return decision
	}

	return Decision{Policy: PolicyDefault, Role: partition.RoleCore}
}

// Len reports the number of rules in the table.
func (t *Table) Len() int {
	return len(t.rules)
}

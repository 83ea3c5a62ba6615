package auth

import (
	"context"
	"sync"

	"hearthhub.org/internal/obs"
)

// PermissionCache is the process-wide role → ordered rule list mapping.
// Refresh replaces the mapping per role; a role that comes back with zero rows
// keeps whatever it had so a half-migrated or truncated rule table cannot
// silently wipe a role down to deny-all.
type PermissionCache struct {
	rules RuleStore

	mu    sync.RWMutex
	byRole map[string][]PermissionRule
}

// NewPermissionCache seeds the cache with hardcoded safe defaults, used until
// the first successful Refresh: admin gets wildcard allow, kiosk gets a single
// local-only read of the dashboard, everything else is deny by absence.
func NewPermissionCache(rules RuleStore) *PermissionCache {
	return &PermissionCache{
		rules: rules,
		byRole: map[string][]PermissionRule{
			RoleAdmin: {
				{Role: RoleAdmin, ActionPattern: "*", Effect: EffectAllow},
			},
			RoleKiosk: {
				{Role: RoleKiosk, ActionPattern: "dashboard.view", Effect: EffectAllow, LocalOnly: true},
			},
		},
	}
}

// Refresh reads the full rule table and swaps the mapping. Safe to run
// concurrently with Rules; readers see either the old map or the new one,
// never a partial mutation.
func (c *PermissionCache) Refresh(ctx context.Context) error {
	all, err := c.rules.ListAll(ctx)
	if err != nil {
		return err
	}
	grouped := make(map[string][]PermissionRule)
	for _, r := range all {
		grouped[r.Role] = append(grouped[r.Role], r)
	}

	c.mu.Lock()
	next := make(map[string][]PermissionRule, len(c.byRole)+len(grouped))
	// Keep-previous-on-empty: start from the current mapping, then overlay
	// only roles that actually came back with rows.
	for role, rules := range c.byRole {
		next[role] = rules
	}
	for role, rules := range grouped {
		next[role] = rules
	}
	c.byRole = next
	c.mu.Unlock()

	obs.Info("permission rules refreshed", map[string]any{"roles": len(grouped)})
	return nil
}

// Rules returns the ordered rule list for a role. Pure in-memory read; the
// returned slice must not be mutated.
func (c *PermissionCache) Rules(role string) []PermissionRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byRole[role]
}

// Allowed evaluates the role's ordered rules against an action. First match
// wins; no match denies. Rules flagged localOnly match only local requests.
func (c *PermissionCache) Allowed(role, action string, local bool) bool {
	for _, r := range c.Rules(role) {
		if r.LocalOnly && !local {
			continue
		}
		if !matchAction(r.ActionPattern, action) {
			continue
		}
		return r.Effect == EffectAllow
	}
	return false
}

// matchAction supports exact matches, the bare wildcard, and a trailing
// "prefix.*" form.
func matchAction(pattern, action string) bool {
	if pattern == "*" || pattern == action {
		return true
	}
	if n := len(pattern); n > 2 && pattern[n-2:] == ".*" {
		prefix := pattern[:n-1] // keep the dot
		return len(action) >= len(prefix) && action[:len(prefix)] == prefix
	}
	return false
}

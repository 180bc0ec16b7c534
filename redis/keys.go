package redis

import (
	"strings"
)

// Store key layout, below the configured namespace:
//
//	{ns}:cache:{key}
//	{ns}:ratelimit:{caller}
//	{ns}:lock:{resource}
//
// Cache keys are built with CacheKey so that everything cached for one
// entity type of one organization shares a prefix and can be invalidated by
// pattern, without an index.
const (
	cachePrefix     = "cache"
	rateLimitPrefix = "ratelimit"
	lockPrefix      = "lock"

	organizationPrefix = "org"
)

// CacheKey returns the cache key for an entity type of an organization,
// optionally narrowed by scope, e.g.
//
//	CacheKey("org-1", "products")               -> org:org-1:products
//	CacheKey("org-1", "products", "p-9")        -> org:org-1:products:p-9
//	CacheKey("org-1", "dashboard", "sales", "7d") -> org:org-1:dashboard:sales:7d
func CacheKey(organizationID, entityType string, scope ...string) string {
	parts := make([]string, 0, 3+len(scope))
	parts = append(parts, organizationPrefix, organizationID, entityType)
	parts = append(parts, scope...)
	return strings.Join(parts, keySeparator)
}

// CachePatterns returns the globs covering every key CacheKey can produce for
// the organization and entity type: the unscoped key itself and all its scoped
// children. Glob metacharacters in the ids are escaped.
func CachePatterns(organizationID, entityType string) []string {
	exact := CacheKey(escapeGlob(organizationID), escapeGlob(entityType))
	return []string{exact, exact + keySeparator + "*"}
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// escapeGlob makes s match itself literally in a SCAN MATCH pattern.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

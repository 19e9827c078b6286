package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Directory supplies the raw permission grants for an identity. The backing
// implementation (user tables, group mappings) lives outside this package.
type Directory interface {
	PermissionsFor(ctx context.Context, email string, groups []string) ([]Permission, error)
}

// Resolver turns an identity into its effective permission set, caching
// results briefly so per-request authorization does not hammer the
// directory.
type Resolver struct {
	directory Directory
	cache     *lru.Cache[string, cacheEntry]
	cacheTTL  time.Duration
	now       func() time.Time
}

type cacheEntry struct {
	permissions []Permission
	expiresAt   time.Time
}

// NewResolver creates a resolver with an LRU cache of the given size. A
// non-positive size disables caching.
func NewResolver(directory Directory, cacheSize int, cacheTTL time.Duration) (*Resolver, error) {
	r := &Resolver{
		directory: directory,
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}

	if cacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create permission cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Resolve returns the ordered permission set for an identity. Order is
// stable (highest role first, then lexical scope) so audit output and tests
// are deterministic.
func (r *Resolver) Resolve(ctx context.Context, email string, groups []string) ([]Permission, error) {
	key := cacheKey(email, groups)

	if r.cache != nil {
		if entry, ok := r.cache.Get(key); ok && r.now().Before(entry.expiresAt) {
			return entry.permissions, nil
		}
	}

	permissions, err := r.directory.PermissionsFor(ctx, email, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions for %s: %w", email, err)
	}

	sort.SliceStable(permissions, func(i, j int) bool {
		a, b := permissions[i], permissions[j]
		if a.Role.Rank() != b.Role.Rank() {
			return a.Role.Rank() > b.Role.Rank()
		}
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		return a.Environment < b.Environment
	})

	if r.cache != nil {
		r.cache.Add(key, cacheEntry{
			permissions: permissions,
			expiresAt:   r.now().Add(r.cacheTTL),
		})
	}

	return permissions, nil
}

// Invalidate drops a cached identity, e.g. after a grant change.
func (r *Resolver) Invalidate(email string, groups []string) {
	if r.cache != nil {
		r.cache.Remove(cacheKey(email, groups))
	}
}

func cacheKey(email string, groups []string) string {
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return email + "#" + hex.EncodeToString(sum[:8])
}

// Package identity resolves Mantis users to identities in the target
// directory. Resolution never fails a migration: anything that cannot be
// matched comes back as Unresolved.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// Directory looks users up in the target identity directory. It returns
// (nil, nil) when no user has the address.
type Directory interface {
	LookupUserByEmail(ctx context.Context, email string) (*types.TargetUser, error)
}

// Resolution is the outcome of resolving one legacy user: Resolved or
// Unresolved.
type Resolution interface {
	// Label is the original legacy identity as shown in metadata.
	Label() string
	isResolution()
}

// Resolved carries the matched target identity.
type Resolved struct {
	Ref      types.TargetUser
	Original string
}

// Label implements Resolution.
func (r Resolved) Label() string { return r.Original }

func (Resolved) isResolution() {}

// Unresolved records why a legacy user has no target identity.
type Unresolved struct {
	Original string
	Reason   string
}

// Label implements Resolution.
func (u Unresolved) Label() string { return u.Original }

func (Unresolved) isResolution() {}

// Reasons recorded on Unresolved.
const (
	ReasonNoUser  = "no user"
	ReasonNoEmail = "no email address"
	ReasonNoMatch = "no matching identity"
)

// Cache memoizes resolutions by lower-cased email for one run.
type Cache struct {
	mu      sync.Mutex
	byEmail map[string]Resolution
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byEmail: make(map[string]Resolution)}
}

func (c *Cache) get(key string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byEmail[key]
	return r, ok
}

func (c *Cache) put(key string, r Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byEmail[key] = r
}

// Len returns the number of memoized addresses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byEmail)
}

// Resolver maps legacy users through a Directory.
type Resolver struct {
	Directory Directory
	Cache     *Cache

	// OnWarning is called when a directory lookup fails.
	OnWarning func(format string, args ...interface{})
}

// NewResolver creates a resolver with a fresh cache.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{Directory: dir, Cache: NewCache()}
}

// Resolve looks up user by exact (case-insensitive) email. A nil user, a
// missing address, no match, or a directory error all give Unresolved.
// Directory errors are not cached so a later issue can retry the lookup.
func (r *Resolver) Resolve(ctx context.Context, user *types.LegacyUser) Resolution {
	if user == nil || user.IsZero() {
		return Unresolved{Original: "Unassigned", Reason: ReasonNoUser}
	}
	label := user.Label()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" {
		return Unresolved{Original: label, Reason: ReasonNoEmail}
	}

	if r.Cache != nil {
		if cached, ok := r.Cache.get(email); ok {
			return relabel(cached, label)
		}
	}
	if r.Directory == nil {
		return Unresolved{Original: label, Reason: ReasonNoMatch}
	}

	found, err := r.Directory.LookupUserByEmail(ctx, email)
	if err != nil {
		r.warn("identity lookup for %s failed: %v", email, err)
		return Unresolved{Original: label, Reason: fmt.Sprintf("lookup failed: %v", err)}
	}

	var res Resolution
	if found != nil && strings.EqualFold(strings.TrimSpace(found.UniqueName), email) {
		res = Resolved{Ref: *found, Original: label}
	} else {
		res = Unresolved{Original: label, Reason: ReasonNoMatch}
	}
	if r.Cache != nil {
		r.Cache.put(email, res)
	}
	return res
}

func (r *Resolver) warn(format string, args ...interface{}) {
	if r.OnWarning != nil {
		r.OnWarning(format, args...)
	}
}

// relabel keeps the cached outcome but reports the caller's label, since two
// Mantis accounts may share an address.
func relabel(res Resolution, label string) Resolution {
	switch v := res.(type) {
	case Resolved:
		v.Original = label
		return v
	case Unresolved:
		v.Original = label
		return v
	}
	return res
}

// AssignedTo returns the value for the live assignee field: the unique name
// when resolved, empty otherwise.
func AssignedTo(res Resolution) string {
	if r, ok := res.(Resolved); ok {
		return r.Ref.UniqueName
	}
	return ""
}

// Describe renders a resolution for the metadata record. Unresolved users are
// annotated so the reader knows the field was left unassigned.
func Describe(res Resolution) string {
	switch v := res.(type) {
	case Resolved:
		return v.Original
	case Unresolved:
		if v.Reason == ReasonNoUser {
			return v.Original
		}
		return fmt.Sprintf("%s (not mapped: %s)", v.Original, v.Reason)
	}
	return ""
}

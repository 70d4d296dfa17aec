// Package authz is the host authorization authority consulted by the
// engine's permission gate.
//
// The registry itself never stores roles. Roles is the in-process
// authority used by the CLI and the HTTP server; it is seeded from the
// deployment manifest and can be changed at runtime by the host.
package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/timelock/internal/ir"
)

// GroupPrefix marks a subject that names a group instead of a caller.
const GroupPrefix = "group:"

// Roles grants capabilities to callers, directly or through groups.
//
// A grant to "group:ops" applies to every member of ops. Groups may
// contain other groups; cycles are tolerated.
//
// Thread-safety: Roles is safe for concurrent use.
type Roles struct {
	mu      sync.RWMutex
	grants  map[ir.Capability]map[string]struct{}
	members map[string]map[string]struct{} // group name -> subjects
}

// NewRoles creates an empty authority that denies everything.
func NewRoles() *Roles {
	return &Roles{
		grants:  make(map[ir.Capability]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
	}
}

// Grant gives subject the capability. Idempotent.
func (r *Roles) Grant(capability ir.Capability, subject string) error {
	if !ir.ValidCapabilities[capability] {
		return fmt.Errorf("grant: unknown capability %q", capability)
	}
	if subject == "" {
		return fmt.Errorf("grant %s: empty subject", capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.grants[capability]
	if !ok {
		set = make(map[string]struct{})
		r.grants[capability] = set
	}
	set[subject] = struct{}{}
	return nil
}

// Revoke removes a direct grant. Membership-derived access is removed by
// RemoveMember instead.
func (r *Roles) Revoke(capability ir.Capability, subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[capability], subject)
}

// AddMember adds subject (a caller or "group:<name>") to group.
func (r *Roles) AddMember(group, subject string) error {
	group = strings.TrimPrefix(group, GroupPrefix)
	if group == "" || subject == "" {
		return fmt.Errorf("add member: group and subject are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[group]
	if !ok {
		set = make(map[string]struct{})
		r.members[group] = set
	}
	set[subject] = struct{}{}
	return nil
}

// RemoveMember removes subject from group.
func (r *Roles) RemoveMember(group, subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[strings.TrimPrefix(group, GroupPrefix)], subject)
}

// HasCapability reports whether caller holds capability, directly or
// through any chain of groups. Group subjects are never callers.
func (r *Roles) HasCapability(ctx context.Context, caller string, capability ir.Capability) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.HasPrefix(caller, GroupPrefix) {
		return false, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for subject := range r.grants[capability] {
		if subject == caller {
			return true, nil
		}
		if group, ok := strings.CutPrefix(subject, GroupPrefix); ok {
			if r.isMember(group, caller, make(map[string]bool)) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *Roles) isMember(group, caller string, visited map[string]bool) bool {
	if visited[group] {
		return false
	}
	visited[group] = true

	for subject := range r.members[group] {
		if subject == caller {
			return true
		}
		if inner, ok := strings.CutPrefix(subject, GroupPrefix); ok {
			if r.isMember(inner, caller, visited) {
				return true
			}
		}
	}
	return false
}

// Grants returns the direct grants per capability, sorted.
func (r *Roles) Grants() map[ir.Capability][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[ir.Capability][]string, len(r.grants))
	for capability, set := range r.grants {
		subjects := make([]string, 0, len(set))
		for s := range set {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)
		out[capability] = subjects
	}
	return out
}

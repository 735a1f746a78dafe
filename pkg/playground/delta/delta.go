//
// Copyright 2023 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package delta diffs two repository states — the known-good baseline
// and a signing-event branch — into a structured change set. Analysis
// is a pure function of the two role sets; nothing here touches disk
// or git.
package delta

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

type RoleState int

const (
	Unchanged RoleState = iota
	ContentChanged
	Added
	Removed
)

func (s RoleState) String() string {
	switch s {
	case ContentChanged:
		return "changed"
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return "unchanged"
}

// Flag marks a structural problem detected during analysis.
type Flag string

const (
	// FlagOrphanedRemoval: role removed while its delegation survives.
	FlagOrphanedRemoval Flag = "orphaned_removal"
	// FlagIllegalOnlineChange: event touches snapshot or timestamp.
	FlagIllegalOnlineChange Flag = "illegal_online_change"
	// FlagIllegalVersionBump: content-free version bump of an offline
	// role outside the online engine.
	FlagIllegalVersionBump Flag = "illegal_version_bump"
)

// TargetDiff lists target-path changes between two versions of a
// targets role.
type TargetDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

func (d TargetDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Change is the verdict for one role.
type Change struct {
	Role  string
	State RoleState

	// Detail for content-changed roles.
	DelegationChanged bool
	Targets           TargetDiff
	ExpiryBumped      bool
	VersionOnly       bool

	Flags []Flag
}

func (c *Change) flagged(f Flag) bool {
	for _, have := range c.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// ChangeSet is the full structured diff of an event against its baseline.
type ChangeSet struct {
	// Changes in evaluation order: root, targets, delegated roles.
	Changes []Change

	// NewInvites present in the event but absent from the baseline,
	// keyed by delegated role name.
	NewInvites map[string][]string

	// Obligations lists, per changed offline role, the keyowners from
	// the governing key set whose signature on the event's version is
	// not (yet) valid.
	Obligations map[string][]string
}

// Empty reports whether the two states are identical at metadata level.
func (cs *ChangeSet) Empty() bool {
	for _, c := range cs.Changes {
		if c.State != Unchanged {
			return false
		}
	}
	return true
}

// Change returns the entry for a role, or nil.
func (cs *ChangeSet) Change(role string) *Change {
	for i := range cs.Changes {
		if cs.Changes[i].Role == role {
			return &cs.Changes[i]
		}
	}
	return nil
}

// Options alter analysis for the one privileged caller.
type Options struct {
	// OnlineEngine marks the caller as the online-signing engine, which
	// may touch snapshot/timestamp and produce content-free bumps.
	OnlineEngine bool
}

// Analyze computes the change set of event against base.
func Analyze(base, event *roles.Set, opts Options) (*ChangeSet, error) {
	cs := &ChangeSet{
		NewInvites:  map[string][]string{},
		Obligations: map[string][]string{},
	}

	for _, name := range unionNames(base, event) {
		c := Change{Role: name}
		b, e := base.Get(name), event.Get(name)
		switch {
		case b == nil:
			c.State = Added
		case e == nil:
			c.State = Removed
			if !delegationDropped(event, name) {
				c.Flags = append(c.Flags, FlagOrphanedRemoval)
			}
		case bytesEqual(b, e):
			c.State = Unchanged
		default:
			c.State = ContentChanged
			if err := describeChange(&c, b, e); err != nil {
				return nil, err
			}
		}

		if c.State != Unchanged && roles.IsOnline(name) && !opts.OnlineEngine {
			c.Flags = append(c.Flags, FlagIllegalOnlineChange)
		}
		if c.VersionOnly && !roles.IsOnline(name) && !opts.OnlineEngine {
			c.Flags = append(c.Flags, FlagIllegalVersionBump)
		}
		cs.Changes = append(cs.Changes, c)
	}

	cs.NewInvites = inviteDiff(base, event)

	if err := collectObligations(cs, base, event); err != nil {
		return nil, err
	}
	return cs, nil
}

func unionNames(base, event *roles.Set) []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range event.Names() {
		seen[n] = true
		names = append(names, n)
	}
	var removed []string
	for _, n := range base.Names() {
		if !seen[n] {
			removed = append(removed, n)
		}
	}
	sort.Strings(removed)
	return append(names, removed...)
}

func bytesEqual(a, b *roles.Role) bool {
	ab, bb := a.RawBytes(), b.RawBytes()
	if ab == nil || bb == nil {
		return false
	}
	return string(ab) == string(bb)
}

// delegationDropped reports whether the event's delegating role no
// longer delegates name, which is the only way a removal is legal.
func delegationDropped(event *roles.Set, name string) bool {
	_, err := event.Delegation(name)
	return err != nil
}

// describeChange fills in the content-change detail for a role present
// in both states.
func describeChange(c *Change, b, e *roles.Role) error {
	var err error
	c.DelegationChanged, err = delegationChanged(b, e)
	if err != nil {
		return err
	}
	if b.Targets != nil && e.Targets != nil {
		c.Targets = targetDiff(b, e)
	}

	same, err := payloadEqualIgnoringVersion(b, e)
	if err != nil {
		return err
	}
	c.ExpiryBumped = !b.Expires().Equal(e.Expires()) && same
	c.VersionOnly = same && b.Version() != e.Version()
	return nil
}

// delegationChanged compares the delegation rules the role itself
// carries (root's role table and key set, targets' delegations).
func delegationChanged(b, e *roles.Role) (bool, error) {
	extract := func(r *roles.Role) (any, error) {
		var v any
		switch {
		case r.Root != nil:
			v = map[string]any{"keys": r.Root.Signed.Keys, "roles": r.Root.Signed.Roles}
		case r.Targets != nil:
			v = r.Targets.Signed.Delegations
		default:
			return nil, nil
		}
		return normalize(v)
	}
	bv, err := extract(b)
	if err != nil {
		return false, err
	}
	ev, err := extract(e)
	if err != nil {
		return false, err
	}
	return !reflect.DeepEqual(bv, ev), nil
}

func targetDiff(b, e *roles.Role) TargetDiff {
	var d TargetDiff
	bt, et := b.Targets.Signed.Targets, e.Targets.Signed.Targets
	for path, tf := range et {
		prev, ok := bt[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case !targetFilesEqual(prev, tf):
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range bt {
		if _, ok := et[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// payloadEqualIgnoringVersion compares the signed payloads with version
// and expiry masked out.
func payloadEqualIgnoringVersion(b, e *roles.Role) (bool, error) {
	mask := func(r *roles.Role) (any, error) {
		raw, err := r.CanonicalSignedBytes()
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		delete(m, "version")
		delete(m, "expires")
		return m, nil
	}
	bv, err := mask(b)
	if err != nil {
		return false, err
	}
	ev, err := mask(e)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(bv, ev), nil
}

// normalize round-trips a value through JSON so DeepEqual compares
// plain maps/slices rather than typed structs with unexported state.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func inviteDiff(base, event *roles.Set) map[string][]string {
	baseInv := allInvites(base)
	out := map[string][]string{}
	for role, owners := range allInvites(event) {
		had := map[string]bool{}
		for _, o := range baseInv[role] {
			had[o] = true
		}
		for _, o := range owners {
			if !had[o] {
				out[role] = append(out[role], o)
			}
		}
		sort.Strings(out[role])
		if len(out[role]) == 0 {
			delete(out, role)
		}
	}
	return out
}

// allInvites merges the invite fields of the two delegating roles.
func allInvites(s *roles.Set) map[string][]string {
	out := map[string][]string{}
	for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
		r := s.Get(name)
		if r == nil {
			continue
		}
		for role, owners := range roles.Invites(r.SignedFields()) {
			out[role] = append(out[role], owners...)
		}
	}
	for role := range out {
		sort.Strings(out[role])
	}
	return out
}

// collectObligations verifies each changed offline role against the
// event's delegation (the new key set governs, per the key-rotation
// tie-break) and records the owners still missing.
func collectObligations(cs *ChangeSet, base, event *roles.Set) error {
	for i := range cs.Changes {
		c := &cs.Changes[i]
		if c.State == Unchanged || c.State == Removed || roles.IsOnline(c.Role) {
			continue
		}
		d, err := event.Delegation(c.Role)
		if err != nil {
			// a role the event no longer delegates was flagged already
			continue
		}
		res, err := roles.VerifyAgainst(event.Get(c.Role), d)
		if err != nil {
			return err
		}
		owners := ownersForKeyIDs(d, append(res.Missing, res.Invalid...))

		// a new root must satisfy the previous root's delegation too
		if c.Role == roles.RoleRoot && base.Has(roles.RoleRoot) {
			prevD, err := base.Delegation(roles.RoleRoot)
			if err != nil {
				return err
			}
			prevRes, err := roles.VerifyAgainst(event.Get(c.Role), prevD)
			if err != nil {
				return err
			}
			owners = mergeOwners(owners, ownersForKeyIDs(prevD, append(prevRes.Missing, prevRes.Invalid...)))
		}
		if len(owners) > 0 {
			cs.Obligations[c.Role] = owners
		}
	}
	return nil
}

func mergeOwners(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range append(a, b...) {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	sort.Strings(out)
	return out
}

func ownersForKeyIDs(d *roles.Delegation, ids []string) []string {
	byID := map[string]string{}
	for _, k := range d.Keys {
		byID[k.ID()] = roles.KeyOwner(k)
	}
	seen := map[string]bool{}
	var owners []string
	for _, id := range ids {
		o := byID[id]
		if o != "" && !seen[o] {
			seen[o] = true
			owners = append(owners, o)
		}
	}
	sort.Strings(owners)
	return owners
}

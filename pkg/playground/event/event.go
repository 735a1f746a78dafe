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

// Package event is the signing-event engine: given a baseline state and
// an event branch state it produces a verdict — empty, invalid,
// incomplete or publishable — together with per-signer obligations and
// a rendered report. The engine never mutates the repository; the
// verdict is a pure function of (base, event, now).
package event

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/sigstore/repository-playground/pkg/playground/delta"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

// expiryTolerance is how far past the policy's expiry period a proposed
// expiry may land before it is rejected. One day absorbs clock skew
// between the signer and the CI runner.
const expiryTolerance = 24 * time.Hour

type VerdictKind int

const (
	// Empty: branches are identical at metadata level.
	Empty VerdictKind = iota
	// Invalid: one or more hard constraints violated.
	Invalid
	// Incomplete: valid shape, signatures or invites still pending.
	Incomplete
	// Publishable: thresholds reached, all invariants hold.
	Publishable
)

func (k VerdictKind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Incomplete:
		return "incomplete"
	case Publishable:
		return "publishable"
	}
	return "empty"
}

// Reason is a hard invalidity reason. The set is closed.
type Reason string

const (
	ReasonIllegalOnlineChange Reason = "illegal_online_change"
	ReasonUnmatchedTargets    Reason = "unmatched_targets"
	ReasonExpiryOutOfRange    Reason = "expiry_out_of_range"
	ReasonDelegationStructure Reason = "delegation_structure"
	ReasonVersionRegression   Reason = "version_regression"
	ReasonOrphanedRemoval     Reason = "orphaned_removal"
	ReasonBadSignature        Reason = "bad_signature"
)

// RoleStatus is the per-role line of the report.
type RoleStatus struct {
	Role  string
	State delta.RoleState

	Reasons  []Reason
	Messages []string

	Threshold int
	// PrevThreshold is set for root edits, which must satisfy the
	// previous root's delegation as well.
	PrevThreshold int

	Signed  []string
	Missing []string
	Invited []string
}

// Valid reports whether the role has no hard failures.
func (rs *RoleStatus) Valid() bool {
	return len(rs.Reasons) == 0
}

// Complete reports whether the role is fully signed with no open invites.
func (rs *RoleStatus) Complete() bool {
	return rs.Valid() && len(rs.Missing) == 0 && len(rs.Invited) == 0
}

// Verdict is the engine's result for one (base, event) pair.
type Verdict struct {
	Kind  VerdictKind
	Roles []RoleStatus

	// Obligations: changed offline role to owners whose signature is
	// still needed. Invites: delegated role to owners yet to accept.
	Obligations map[string][]string
	Invites     map[string][]string
}

// Input bundles everything Status needs. TargetsDir may be empty when
// no target tree accompanies the metadata (pure delegation events).
type Input struct {
	Base       *roles.Set
	Event      *roles.Set
	TargetsDir string
	State      *repo.EventState
	Now        time.Time
}

// Status computes the verdict for a signing event.
func Status(in Input) (*Verdict, error) {
	cs, err := delta.Analyze(in.Base, in.Event, delta.Options{})
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		return &Verdict{Kind: Empty}, nil
	}

	v := &Verdict{
		Obligations: map[string][]string{},
		Invites:     collectInvites(in),
	}

	var fileChanges map[string][]delta.TargetFileChange
	if in.TargetsDir != "" {
		fileChanges, err = delta.ScanTargets(in.TargetsDir, in.Event)
		if err != nil {
			// files for unknown roles: surfaced on the targets role
			fileChanges = nil
			v.Roles = append(v.Roles, RoleStatus{
				Role:     roles.RoleTargets,
				State:    delta.ContentChanged,
				Reasons:  []Reason{ReasonUnmatchedTargets},
				Messages: []string{err.Error()},
			})
			v.Kind = Invalid
			return v, nil
		}
	}

	for _, c := range cs.Changes {
		if c.State == delta.Unchanged {
			continue
		}
		rs := evaluateRole(in, cs, &c, fileChanges)
		v.Roles = append(v.Roles, rs)

		// a root failure short-circuits the rest
		if c.Role == roles.RoleRoot && !rs.Valid() {
			break
		}
	}

	for role, owners := range cs.Obligations {
		v.Obligations[role] = owners
	}

	v.Kind = Publishable
	for _, rs := range v.Roles {
		if !rs.Valid() {
			v.Kind = Invalid
			return v, nil
		}
	}
	for _, rs := range v.Roles {
		if !rs.Complete() {
			v.Kind = Incomplete
			break
		}
	}
	return v, nil
}

// evaluateRole runs the hard checks for a changed role and builds its
// signing status.
func evaluateRole(in Input, cs *delta.ChangeSet, c *delta.Change, fileChanges map[string][]delta.TargetFileChange) RoleStatus {
	rs := RoleStatus{Role: c.Role, State: c.State}

	for _, f := range c.Flags {
		switch f {
		case delta.FlagOrphanedRemoval:
			rs.addReason(ReasonOrphanedRemoval, "role was removed but its delegation remains")
		case delta.FlagIllegalOnlineChange:
			rs.addReason(ReasonIllegalOnlineChange, "online metadata may only change through the online engine")
		}
	}
	if c.State == delta.Removed || roles.IsOnline(c.Role) {
		return rs
	}

	md := in.Event.Get(c.Role)

	// version first: a regression aborts further analysis of the role
	if prev := in.Base.Get(c.Role); prev != nil && md.Version() <= prev.Version() {
		rs.addReason(ReasonVersionRegression, "version %d is not above baseline %d", md.Version(), prev.Version())
		return rs
	}

	checkExpiry(in, md, &rs)
	checkDelegations(in, c, &rs)
	if len(fileChanges[c.Role]) > 0 {
		for _, fc := range fileChanges[c.Role] {
			rs.addReason(ReasonUnmatchedTargets, "%s: file %s relative to metadata", fc.Path, fc.State)
		}
	}
	signingStatus(in, c.Role, &rs)
	return rs
}

func (rs *RoleStatus) addReason(r Reason, format string, a ...any) {
	for _, have := range rs.Reasons {
		if have == r {
			rs.Messages = append(rs.Messages, fmt.Sprintf(format, a...))
			return
		}
	}
	rs.Reasons = append(rs.Reasons, r)
	rs.Messages = append(rs.Messages, fmt.Sprintf(format, a...))
}

// checkExpiry validates the proposed expiry against the role's own
// expiry-period policy.
func checkExpiry(in Input, md *roles.Role, rs *RoleStatus) {
	if !md.Expires().After(in.Now) {
		rs.addReason(ReasonExpiryOutOfRange, "expiry %s is in the past", md.Expires().Format(time.RFC3339))
		return
	}
	days, err := roles.ExpiryPeriod(md.SignedFields())
	if err != nil {
		rs.addReason(ReasonExpiryOutOfRange, "missing or malformed %s", roles.FieldExpiryPeriod)
		return
	}
	limit := in.Now.AddDate(0, 0, days).Add(expiryTolerance)
	if md.Expires().After(limit) {
		rs.addReason(ReasonExpiryOutOfRange, "expiry %s is further than the %d day policy allows",
			md.Expires().Format(time.RFC3339), days)
	}
}

// checkDelegations validates the structure of every delegation the
// changed role carries, and the delegation governing the role itself.
func checkDelegations(in Input, c *delta.Change, rs *RoleStatus) {
	d, err := in.Event.Delegation(c.Role)
	if err != nil {
		rs.addReason(ReasonDelegationStructure, "no delegation governs %s", c.Role)
		return
	}
	validateDelegation(c.Role, d, rs)

	// a changed delegating role re-validates what it delegates
	if c.DelegationChanged {
		for _, name := range in.Event.DelegatedRoleNames(c.Role) {
			dd, err := in.Event.Delegation(name)
			if err != nil {
				rs.addReason(ReasonDelegationStructure, "delegation for %s is unresolvable", name)
				continue
			}
			validateDelegation(name, dd, rs)
		}
	}
}

func validateDelegation(name string, d *roles.Delegation, rs *RoleStatus) {
	if len(d.Keys) == 0 {
		rs.addReason(ReasonDelegationStructure, "%s: empty key set", name)
		return
	}
	if d.Threshold < 1 || d.Threshold > len(d.Keys) {
		rs.addReason(ReasonDelegationStructure, "%s: threshold %d outside [1, %d]", name, d.Threshold, len(d.Keys))
	}
	for _, k := range d.Keys {
		if err := roles.ValidateKeyCustom(k); err != nil {
			rs.addReason(ReasonDelegationStructure, "%s: %v", name, err)
		}
		if _, err := roles.VerifierFor(k); err != nil {
			rs.addReason(ReasonDelegationStructure, "%s: key %s: unknown scheme", name, k.ID())
		}
		online := roles.OnlineURI(k) != ""
		if roles.IsOnline(name) && !online {
			rs.addReason(ReasonDelegationStructure, "%s: online role delegated to offline key %s", name, k.ID())
		}
		if !roles.IsOnline(name) && online {
			rs.addReason(ReasonDelegationStructure, "%s: offline role delegated to online key %s", name, k.ID())
		}
	}
}

// signingStatus fills in the signed/missing/invited owner lists. The
// event's (new) key set governs; root edits must satisfy the previous
// root as well.
func signingStatus(in Input, rolename string, rs *RoleStatus) {
	md := in.Event.Get(rolename)
	d, err := in.Event.Delegation(rolename)
	if err != nil {
		return
	}
	rs.Threshold = d.Threshold

	signed, missing := ownerPartition(in, md, d, rs)
	if rolename == roles.RoleRoot && in.Base.Has(roles.RoleRoot) {
		if prevD, err := in.Base.Delegation(roles.RoleRoot); err == nil {
			rs.PrevThreshold = prevD.Threshold
			prevSigned, prevMissing := ownerPartition(in, md, prevD, rs)
			signed = mergeUnique(signed, prevSigned)
			missing = mergeUnique(missing, prevMissing)
		}
	}
	rs.Signed, rs.Missing = signed, missing

	invites := collectInvites(in)
	for _, delegated := range in.Event.DelegatedRoleNames(rolename) {
		rs.Invited = mergeUnique(rs.Invited, invites[delegated])
	}
	if rolename != roles.RoleRoot && rolename != roles.RoleTargets {
		rs.Invited = mergeUnique(rs.Invited, invites[rolename])
	}
}

// ownerPartition verifies signatures against one delegation and splits
// the key set's owners into signed and missing. A signature that fails
// against the event payload but verifies against the baseline version
// is merely stale; one that verifies against neither is reported as
// bad_signature.
func ownerPartition(in Input, md *roles.Role, d *roles.Delegation, rs *RoleStatus) (signed, missing []string) {
	res, err := roles.VerifyAgainst(md, d)
	if err != nil {
		rs.addReason(ReasonDelegationStructure, "%v", err)
		return nil, nil
	}
	owner := func(id string) string {
		for _, k := range d.Keys {
			if k.ID() == id {
				return roles.KeyOwner(k)
			}
		}
		return ""
	}
	for _, id := range res.Valid {
		if o := owner(id); o != "" {
			signed = append(signed, o)
		}
	}
	for _, id := range res.Missing {
		if o := owner(id); o != "" {
			missing = append(missing, o)
		}
	}
	for _, id := range res.Invalid {
		if staleSignature(in, md, d, id) {
			if o := owner(id); o != "" {
				missing = append(missing, o)
			}
			continue
		}
		rs.addReason(ReasonBadSignature, "signature by key %s does not verify", id)
	}
	sort.Strings(signed)
	sort.Strings(missing)
	return signed, missing
}

// staleSignature reports whether the keyid's signature on md verifies
// against the baseline payload instead (content changed under it).
func staleSignature(in Input, md *roles.Role, d *roles.Delegation, keyid string) bool {
	prev := in.Base.Get(md.Name)
	if prev == nil {
		return false
	}
	payload, err := prev.CanonicalSignedBytes()
	if err != nil {
		return false
	}
	sig, ok := md.Signature(keyid)
	if !ok {
		return false
	}
	for _, k := range d.Keys {
		if k.ID() != keyid {
			continue
		}
		verifier, err := roles.VerifierFor(k)
		if err != nil {
			return false
		}
		return verifier.VerifySignature(bytes.NewReader(sig.Signature), bytes.NewReader(payload)) == nil
	}
	return false
}

// collectInvites merges metadata-carried invites with the signer-written
// event state file.
func collectInvites(in Input) map[string][]string {
	out := map[string][]string{}
	for role, owners := range in.State.Invites {
		out[role] = mergeUnique(out[role], owners)
	}
	for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
		r := in.Event.Get(name)
		if r == nil {
			continue
		}
		for role, owners := range roles.Invites(r.SignedFields()) {
			out[role] = mergeUnique(out[role], owners)
		}
	}
	return out
}

func mergeUnique(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(a, b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

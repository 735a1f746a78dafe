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

// Package roles models the repository's TUF role graph in memory.
//
// Each role is a go-tuf Metadata value; Role wraps the four generic
// instantiations behind one handle so the engines can walk the graph
// without caring which concrete signed type they hold. Custom
// x-playground-* fields ride in UnrecognizedFields and are preserved
// verbatim through load/save.
package roles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cjson "github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// Top-level role names, aliased so callers don't import go-tuf for them.
const (
	RoleRoot      = metadata.ROOT
	RoleTargets   = metadata.TARGETS
	RoleSnapshot  = metadata.SNAPSHOT
	RoleTimestamp = metadata.TIMESTAMP
)

// IsOnline reports whether the named role is signed by service-held keys.
func IsOnline(name string) bool {
	return name == RoleSnapshot || name == RoleTimestamp
}

// IsTopLevel reports whether the named role is delegated directly by root.
func IsTopLevel(name string) bool {
	switch name {
	case RoleRoot, RoleTargets, RoleSnapshot, RoleTimestamp:
		return true
	}
	return false
}

// Role is one parsed metadata file. Exactly one of the typed metadata
// pointers is set, matching Name.
type Role struct {
	Name string

	Root      *metadata.Metadata[metadata.RootType]
	Targets   *metadata.Metadata[metadata.TargetsType]
	Snapshot  *metadata.Metadata[metadata.SnapshotType]
	Timestamp *metadata.Metadata[metadata.TimestampType]

	// raw holds the bytes the role was parsed from, for cheap
	// changed/unchanged comparison against a baseline.
	raw []byte
}

// Parse decodes a role file. The signed type is chosen by role name:
// anything that is not root, snapshot or timestamp is a targets role.
func Parse(name string, data []byte) (r *Role, err error) {
	// the metadata decoder panics on some wrongly typed documents
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, apierrors.New(apierrors.KindMalformedMetadata, name, "%v", p)
		}
	}()
	r = &Role{Name: name, raw: data}
	switch name {
	case RoleRoot:
		r.Root, err = metadata.Root().FromBytes(data)
	case RoleSnapshot:
		r.Snapshot, err = metadata.Snapshot().FromBytes(data)
	case RoleTimestamp:
		r.Timestamp, err = metadata.Timestamp().FromBytes(data)
	default:
		r.Targets, err = metadata.Targets().FromBytes(data)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindMalformedMetadata, name, err)
	}
	// keyids cover the key without its custom fields, as on signatures
	var keys map[string]*metadata.Key
	if r.Root != nil {
		keys = r.Root.Signed.Keys
	} else if r.Targets != nil && r.Targets.Signed.Delegations != nil {
		keys = r.Targets.Signed.Delegations.Keys
	}
	for _, k := range keys {
		fields := k.UnrecognizedFields
		k.UnrecognizedFields = nil
		k.ID()
		k.UnrecognizedFields = fields
	}
	return r, nil
}

// NewTargets returns a fresh, unsigned targets role (also used for
// delegated roles). Expiry and version are placeholders until the first
// Write through the repository surface.
func NewTargets(name string, expires time.Time) *Role {
	return &Role{Name: name, Targets: metadata.Targets(expires)}
}

// NewRoot returns a fresh root role with consistent snapshots enabled.
func NewRoot(expires time.Time) *Role {
	md := metadata.Root(expires)
	md.Signed.ConsistentSnapshot = true
	return &Role{Name: RoleRoot, Root: md}
}

// NewSnapshot and NewTimestamp start at version 0 so the online engine's
// bump-on-write yields version 1 on first publish.
func NewSnapshot(expires time.Time) *Role {
	md := metadata.Snapshot(expires)
	md.Signed.Meta = map[string]*metadata.MetaFiles{}
	md.Signed.Version = 0
	return &Role{Name: RoleSnapshot, Snapshot: md}
}

func NewTimestamp(expires time.Time) *Role {
	md := metadata.Timestamp(expires)
	md.Signed.Version = 0
	return &Role{Name: RoleTimestamp, Timestamp: md}
}

func (r *Role) Version() int64 {
	switch {
	case r.Root != nil:
		return r.Root.Signed.Version
	case r.Targets != nil:
		return r.Targets.Signed.Version
	case r.Snapshot != nil:
		return r.Snapshot.Signed.Version
	default:
		return r.Timestamp.Signed.Version
	}
}

func (r *Role) SetVersion(v int64) {
	switch {
	case r.Root != nil:
		r.Root.Signed.Version = v
	case r.Targets != nil:
		r.Targets.Signed.Version = v
	case r.Snapshot != nil:
		r.Snapshot.Signed.Version = v
	default:
		r.Timestamp.Signed.Version = v
	}
}

func (r *Role) Expires() time.Time {
	switch {
	case r.Root != nil:
		return r.Root.Signed.Expires
	case r.Targets != nil:
		return r.Targets.Signed.Expires
	case r.Snapshot != nil:
		return r.Snapshot.Signed.Expires
	default:
		return r.Timestamp.Signed.Expires
	}
}

func (r *Role) SetExpires(t time.Time) {
	t = t.UTC().Truncate(time.Second)
	switch {
	case r.Root != nil:
		r.Root.Signed.Expires = t
	case r.Targets != nil:
		r.Targets.Signed.Expires = t
	case r.Snapshot != nil:
		r.Snapshot.Signed.Expires = t
	default:
		r.Timestamp.Signed.Expires = t
	}
}

// SignedFields returns the custom-field map of the signed payload.
func (r *Role) SignedFields() map[string]any {
	switch {
	case r.Root != nil:
		if r.Root.Signed.UnrecognizedFields == nil {
			r.Root.Signed.UnrecognizedFields = map[string]any{}
		}
		return r.Root.Signed.UnrecognizedFields
	case r.Targets != nil:
		if r.Targets.Signed.UnrecognizedFields == nil {
			r.Targets.Signed.UnrecognizedFields = map[string]any{}
		}
		return r.Targets.Signed.UnrecognizedFields
	case r.Snapshot != nil:
		if r.Snapshot.Signed.UnrecognizedFields == nil {
			r.Snapshot.Signed.UnrecognizedFields = map[string]any{}
		}
		return r.Snapshot.Signed.UnrecognizedFields
	default:
		if r.Timestamp.Signed.UnrecognizedFields == nil {
			r.Timestamp.Signed.UnrecognizedFields = map[string]any{}
		}
		return r.Timestamp.Signed.UnrecognizedFields
	}
}

func (r *Role) Signatures() []metadata.Signature {
	switch {
	case r.Root != nil:
		return r.Root.Signatures
	case r.Targets != nil:
		return r.Targets.Signatures
	case r.Snapshot != nil:
		return r.Snapshot.Signatures
	default:
		return r.Timestamp.Signatures
	}
}

func (r *Role) SetSignatures(sigs []metadata.Signature) {
	switch {
	case r.Root != nil:
		r.Root.Signatures = sigs
	case r.Targets != nil:
		r.Targets.Signatures = sigs
	case r.Snapshot != nil:
		r.Snapshot.Signatures = sigs
	default:
		r.Timestamp.Signatures = sigs
	}
}

// Sign appends a signature over the canonical payload. Existing
// signatures are kept; clear first for a full re-sign.
func (r *Role) Sign(signer signature.Signer) error {
	var err error
	switch {
	case r.Root != nil:
		_, err = r.Root.Sign(signer)
	case r.Targets != nil:
		_, err = r.Targets.Sign(signer)
	case r.Snapshot != nil:
		_, err = r.Snapshot.Sign(signer)
	default:
		_, err = r.Timestamp.Sign(signer)
	}
	if err != nil {
		return apierrors.Wrap(apierrors.KindSignatureRejected, r.Name, err)
	}
	return nil
}

// Signature returns the signature by keyid, if present.
func (r *Role) Signature(keyid string) (metadata.Signature, bool) {
	for _, s := range r.Signatures() {
		if s.KeyID == keyid {
			return s, true
		}
	}
	return metadata.Signature{}, false
}

// Bytes serializes the role the way it is persisted (indented JSON,
// stable key order courtesy of go-tuf).
func (r *Role) Bytes() ([]byte, error) {
	switch {
	case r.Root != nil:
		return r.Root.ToBytes(true)
	case r.Targets != nil:
		return r.Targets.ToBytes(true)
	case r.Snapshot != nil:
		return r.Snapshot.ToBytes(true)
	default:
		return r.Timestamp.ToBytes(true)
	}
}

// CanonicalSignedBytes is the byte string signatures are computed over:
// canonical JSON of the signed payload, matching what go-tuf signs.
func (r *Role) CanonicalSignedBytes() ([]byte, error) {
	var signed any
	switch {
	case r.Root != nil:
		signed = r.Root.Signed
	case r.Targets != nil:
		signed = r.Targets.Signed
	case r.Snapshot != nil:
		signed = r.Snapshot.Signed
	default:
		signed = r.Timestamp.Signed
	}
	b, err := cjson.EncodeCanonical(signed)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindMalformedMetadata, r.Name, err)
	}
	return b, nil
}

// RawBytes returns the bytes the role was parsed from ("" for roles
// created in memory).
func (r *Role) RawBytes() []byte {
	return r.raw
}

// Delegation describes who may sign a role: the delegating role's key
// selection and threshold for it.
type Delegation struct {
	Delegator string
	Threshold int
	Keys      []*metadata.Key
}

// KeyIDs returns the delegation's keyids in key order.
func (d *Delegation) KeyIDs() []string {
	ids := make([]string, 0, len(d.Keys))
	for _, k := range d.Keys {
		ids = append(ids, k.ID())
	}
	return ids
}

// Owners returns the keyowner handles of the delegation's offline keys.
func (d *Delegation) Owners() []string {
	var owners []string
	for _, k := range d.Keys {
		if o := KeyOwner(k); o != "" {
			owners = append(owners, o)
		}
	}
	sort.Strings(owners)
	return owners
}

// Set is a loaded role graph: the borrowed, in-memory view of one
// metadata directory. It is discarded after each engine operation.
type Set struct {
	roles map[string]*Role
}

// NewSet builds a Set from parsed roles.
func NewSet(rs ...*Role) *Set {
	s := &Set{roles: map[string]*Role{}}
	for _, r := range rs {
		s.roles[r.Name] = r
	}
	return s
}

// LoadDir parses every *.json role file in dir. The root_history
// subdirectory and dotfiles are not role files.
func LoadDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading metadata directory: %w", err)
	}
	s := &Set{roles: map[string]*Role{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		r, err := Parse(name, data)
		if err != nil {
			return nil, err
		}
		s.roles[name] = r
	}
	return s, nil
}

// Get returns the named role or nil.
func (s *Set) Get(name string) *Role {
	return s.roles[name]
}

func (s *Set) Has(name string) bool {
	return s.roles[name] != nil
}

// Add inserts or replaces a role.
func (s *Set) Add(r *Role) {
	s.roles[r.Name] = r
}

// Names returns all role names, root and targets first, then the rest
// sorted. Engines evaluate in this order.
func (s *Set) Names() []string {
	var names []string
	for n := range s.roles {
		if !IsTopLevel(n) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	var out []string
	for _, n := range []string{RoleRoot, RoleTargets, RoleSnapshot, RoleTimestamp} {
		if s.Has(n) {
			out = append(out, n)
		}
	}
	return append(out, names...)
}

// Delegation resolves the delegation governing name: root delegates the
// four top-level roles, top-level targets delegates everything else.
func (s *Set) Delegation(name string) (*Delegation, error) {
	if IsTopLevel(name) {
		root := s.Get(RoleRoot)
		if root == nil || root.Root == nil {
			return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "no root role in set")
		}
		role, ok := root.Root.Signed.Roles[name]
		if !ok {
			return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "root does not delegate %q", name)
		}
		d := &Delegation{Delegator: RoleRoot, Threshold: role.Threshold}
		for _, id := range role.KeyIDs {
			if k, ok := root.Root.Signed.Keys[id]; ok {
				d.Keys = append(d.Keys, k)
			}
		}
		return d, nil
	}

	targets := s.Get(RoleTargets)
	if targets == nil || targets.Targets == nil {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "no targets role in set")
	}
	delegations := targets.Targets.Signed.Delegations
	if delegations == nil {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "targets has no delegations")
	}
	for _, dr := range delegations.Roles {
		if dr.Name != name {
			continue
		}
		d := &Delegation{Delegator: RoleTargets, Threshold: dr.Threshold}
		for _, id := range dr.KeyIDs {
			if k, ok := delegations.Keys[id]; ok {
				d.Keys = append(d.Keys, k)
			}
		}
		return d, nil
	}
	return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "targets does not delegate %q", name)
}

// DelegatedRoleNames returns the names a role delegates: for root the
// top-level roles, for targets its delegated targets roles.
func (s *Set) DelegatedRoleNames(name string) []string {
	switch name {
	case RoleRoot:
		root := s.Get(RoleRoot)
		if root == nil {
			return nil
		}
		var names []string
		for n := range root.Root.Signed.Roles {
			names = append(names, n)
		}
		sort.Strings(names)
		return names
	case RoleTargets:
		targets := s.Get(RoleTargets)
		if targets == nil || targets.Targets.Signed.Delegations == nil {
			return nil
		}
		var names []string
		for _, dr := range targets.Targets.Signed.Delegations.Roles {
			names = append(names, dr.Name)
		}
		return names
	}
	return nil
}

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

package event

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type user struct {
	name string
	key  *metadata.Key
	sv   signature.SignerVerifier
}

func newUser(t *testing.T, name string) *user {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := metadata.KeyFromPublicKey(pub)
	require.NoError(t, err)
	roles.SetKeyOwner(key, name)
	sv, err := signature.LoadSignerVerifier(priv, crypto.Hash(0))
	require.NoError(t, err)
	return &user{name: name, key: key, sv: sv}
}

// state builds a root+targets repository delegated to the given users
// with the given threshold.
func state(t *testing.T, threshold int, users ...*user) *roles.Set {
	t.Helper()
	root := roles.NewRoot(testNow.AddDate(1, 0, 0))
	for _, u := range users {
		for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
			require.NoError(t, root.Root.Signed.AddKey(u.key, name))
		}
	}
	root.Root.Signed.Roles[roles.RoleRoot].Threshold = threshold
	root.Root.Signed.Roles[roles.RoleTargets].Threshold = threshold
	roles.SetExpiryPeriod(root.SignedFields(), 365)
	roles.SetSigningPeriod(root.SignedFields(), 60)

	targets := roles.NewTargets(roles.RoleTargets, testNow.AddDate(0, 0, 180))
	roles.SetExpiryPeriod(targets.SignedFields(), 180)
	roles.SetSigningPeriod(targets.SignedFields(), 30)
	return roles.NewSet(root, targets)
}

func signAll(t *testing.T, s *roles.Set, users ...*user) {
	t.Helper()
	for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
		r := s.Get(name)
		r.SetSignatures(nil)
		for _, u := range users {
			require.NoError(t, r.Sign(u.sv))
		}
	}
}

func reparseSet(t *testing.T, s *roles.Set) *roles.Set {
	t.Helper()
	out := roles.NewSet()
	for _, name := range s.Names() {
		data, err := s.Get(name).Bytes()
		require.NoError(t, err)
		r, err := roles.Parse(name, data)
		require.NoError(t, err)
		out.Add(r)
	}
	return out
}

func input(base, ev *roles.Set) Input {
	return Input{
		Base:  base,
		Event: ev,
		State: &repo.EventState{Invites: map[string][]string{}},
		Now:   testNow,
	}
}

func TestStatusEmpty(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	base := reparseSet(t, s)
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Empty, v.Kind)
}

// Initial event: no baseline at all, one signer, fully signed.
func TestStatusInitialEventPublishable(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	ev := reparseSet(t, s)

	v, err := Status(input(roles.NewSet(), ev))
	require.NoError(t, err)
	assert.Equal(t, Publishable, v.Kind, renderString(v))
}

func TestStatusIncompleteUntilThreshold(t *testing.T) {
	u1 := newUser(t, "@user1")
	u2 := newUser(t, "@user2")

	s := state(t, 2, u1, u2)
	signAll(t, s, u1)
	ev := reparseSet(t, s)

	v, err := Status(input(roles.NewSet(), ev))
	require.NoError(t, err)
	assert.Equal(t, Incomplete, v.Kind)
	assert.Equal(t, []string{"@user2"}, v.Obligations[roles.RoleRoot])

	// the second signature flips the verdict
	signAll(t, s, u1, u2)
	ev = reparseSet(t, s)
	v, err = Status(input(roles.NewSet(), ev))
	require.NoError(t, err)
	assert.Equal(t, Publishable, v.Kind, renderString(v))
}

// A signature made before a content change is stale, not invalid.
func TestStatusStaleSignatureNeedsResign(t *testing.T) {
	u1 := newUser(t, "@user1")
	u2 := newUser(t, "@user2")

	s := state(t, 2, u1, u2)
	signAll(t, s, u1, u2)
	base := reparseSet(t, s)

	// u1 edits targets and re-signs; u2's old signature is now stale
	targets := s.Get(roles.RoleTargets)
	targets.SetVersion(2)
	staleSig, ok := base.Get(roles.RoleTargets).Signature(u2.key.ID())
	require.True(t, ok)
	targets.SetSignatures([]metadata.Signature{staleSig})
	require.NoError(t, targets.Sign(u1.sv))
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Incomplete, v.Kind, renderString(v))
	assert.Equal(t, []string{"@user2"}, v.Obligations[roles.RoleTargets])
}

func TestStatusBadSignature(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	base := reparseSet(t, s)

	targets := s.Get(roles.RoleTargets)
	targets.SetVersion(2)
	targets.SetSignatures([]metadata.Signature{
		{KeyID: u.key.ID(), Signature: []byte("garbage that verifies against nothing")},
	})
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Invalid, v.Kind)
	assert.Contains(t, v.Roles[0].Reasons, ReasonBadSignature)
}

func TestStatusVersionRegression(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	base := reparseSet(t, s)

	// same version as baseline counts as regression
	signAll(t, s, u)
	root := s.Get(roles.RoleRoot)
	roles.SetInvites(root.SignedFields(), map[string][]string{"targets": {"@user9"}})
	root.SetSignatures(nil)
	require.NoError(t, root.Sign(u.sv))
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Invalid, v.Kind)
	require.NotEmpty(t, v.Roles)
	rootStatus := v.Roles[0]
	assert.Equal(t, roles.RoleRoot, rootStatus.Role)
	assert.Equal(t, []Reason{ReasonVersionRegression}, rootStatus.Reasons)

	// a root failure short-circuits everything else
	assert.Len(t, v.Roles, 1)
}

func TestStatusIllegalOnlineChange(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	base := reparseSet(t, s)

	snapshot := roles.NewSnapshot(testNow.AddDate(0, 0, 7))
	snapshot.SetVersion(1)
	s.Add(snapshot)
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Invalid, v.Kind)
	found := false
	for _, rs := range v.Roles {
		if rs.Role == roles.RoleSnapshot {
			assert.Contains(t, rs.Reasons, ReasonIllegalOnlineChange)
			found = true
		}
	}
	assert.True(t, found)
}

func TestStatusExpiryOutOfRange(t *testing.T) {
	u := newUser(t, "@user1")

	for _, tc := range []struct {
		name    string
		expires time.Time
		valid   bool
	}{
		{"in the past", testNow.AddDate(0, 0, -1), false},
		{"beyond policy and tolerance", testNow.AddDate(0, 0, 365+2), false},
		{"within tolerance", testNow.AddDate(0, 0, 365), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := state(t, 1, u)
			roles.SetExpiryPeriod(s.Get(roles.RoleRoot).SignedFields(), 365)
			s.Get(roles.RoleRoot).SetExpires(tc.expires)
			signAll(t, s, u)
			ev := reparseSet(t, s)

			v, err := Status(input(roles.NewSet(), ev))
			require.NoError(t, err)
			if tc.valid {
				assert.NotEqual(t, Invalid, v.Kind, renderString(v))
			} else {
				assert.Equal(t, Invalid, v.Kind)
				assert.Contains(t, v.Roles[0].Reasons, ReasonExpiryOutOfRange)
			}
		})
	}
}

func TestStatusDelegationStructure(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)

	// threshold above the key-set size
	s.Get(roles.RoleRoot).Root.Signed.Roles[roles.RoleTargets].Threshold = 5
	signAll(t, s, u)
	ev := reparseSet(t, s)

	v, err := Status(input(roles.NewSet(), ev))
	require.NoError(t, err)
	assert.Equal(t, Invalid, v.Kind)
	found := false
	for _, rs := range v.Roles {
		if rs.Role == roles.RoleTargets {
			assert.Contains(t, rs.Reasons, ReasonDelegationStructure)
			found = true
		}
	}
	assert.True(t, found)
}

// Invitations keep an otherwise-signed event incomplete.
func TestStatusOpenInvites(t *testing.T) {
	u := newUser(t, "@user1")
	s := state(t, 1, u)
	signAll(t, s, u)
	base := reparseSet(t, s)

	root := s.Get(roles.RoleRoot)
	root.SetVersion(2)
	roles.SetInvites(root.SignedFields(), map[string][]string{roles.RoleTargets: {"@user2"}})
	root.SetSignatures(nil)
	require.NoError(t, root.Sign(u.sv))
	ev := reparseSet(t, s)

	v, err := Status(input(base, ev))
	require.NoError(t, err)
	assert.Equal(t, Incomplete, v.Kind, renderString(v))
	assert.Equal(t, []string{"@user2"}, v.Invites[roles.RoleTargets])
}

func TestRenderReport(t *testing.T) {
	u1 := newUser(t, "@user1")
	u2 := newUser(t, "@user2")
	s := state(t, 2, u1, u2)
	signAll(t, s, u1)
	ev := reparseSet(t, s)

	v, err := Status(input(roles.NewSet(), ev))
	require.NoError(t, err)

	out := renderString(v)
	assert.Contains(t, out, "#### :x: root")
	assert.Contains(t, out, "signed by 1/2 signers (@user1)")
	assert.Contains(t, out, "Still missing signatures from @user2")
	assert.Contains(t, out, "Verdict: incomplete")
}

func renderString(v *Verdict) string {
	var sb strings.Builder
	v.Render(&sb)
	return sb.String()
}

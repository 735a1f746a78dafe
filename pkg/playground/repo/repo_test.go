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

package repo

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/v2/metadata"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo *Repo
	set  *roles.Set
	key  *metadata.Key
	sv   signature.SignerVerifier
}

// newFixture writes a minimal root+targets repository to disk, both
// delegated to one key with threshold 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := metadata.KeyFromPublicKey(pub)
	require.NoError(t, err)
	roles.SetKeyOwner(key, "@user1")
	sv, err := signature.LoadSignerVerifier(priv, crypto.Hash(0))
	require.NoError(t, err)

	root := roles.NewRoot(testNow.AddDate(1, 0, 0))
	for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
		require.NoError(t, root.Root.Signed.AddKey(key, name))
	}
	roles.SetExpiryPeriod(root.SignedFields(), 365)
	roles.SetSigningPeriod(root.SignedFields(), 60)

	targets := roles.NewTargets(roles.RoleTargets, testNow.AddDate(0, 0, 180))
	roles.SetExpiryPeriod(targets.SignedFields(), 180)
	roles.SetSigningPeriod(targets.SignedFields(), 30)

	require.NoError(t, root.Sign(sv))
	require.NoError(t, targets.Sign(sv))

	for _, r := range []*roles.Role{root, targets} {
		data, err := r.Bytes()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, r.Name+".json"), data, 0o644))
	}

	repo := Open(dir, WithClock(clocktesting.NewFakePassiveClock(testNow)))
	loaded, err := repo.Load()
	require.NoError(t, err)
	return &fixture{repo: repo, set: loaded, key: key, sv: sv}
}

func TestBumpVersionSetsExpiryFromPolicy(t *testing.T) {
	f := newFixture(t)

	v, err := f.repo.BumpVersion(f.set, roles.RoleTargets)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	targets := f.set.Get(roles.RoleTargets)
	assert.Equal(t, testNow.AddDate(0, 0, 180), targets.Expires())
	assert.Empty(t, targets.Signatures())

	// expiry respects now < expiry <= now + period + 1d
	assert.True(t, targets.Expires().After(testNow))
	assert.False(t, targets.Expires().After(testNow.AddDate(0, 0, 181)))
}

func TestNeedsBump(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", testNow, false},
		{"just before window", testNow.AddDate(0, 0, 149), false},
		{"inside window", testNow.AddDate(0, 0, 151), true},
		{"past expiry", testNow.AddDate(0, 0, 200), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := Open(f.repo.Dir(), WithClock(clocktesting.NewFakePassiveClock(tc.now)))
			got, err := r.NeedsBump(f.set, roles.RoleTargets)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWriteRefusesBelowThreshold(t *testing.T) {
	f := newFixture(t)

	targets := f.set.Get(roles.RoleTargets)
	targets.SetVersion(2)
	targets.SetSignatures(nil)

	err := f.repo.Write(f.set, targets, WriteOptions{})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindInvariantViolation, apierrors.KindOf(err))

	// a partial-event context may persist unsigned roles
	require.NoError(t, f.repo.Write(f.set, targets, WriteOptions{PartialEvent: true}))

	// and signing makes the strict write legal again
	require.NoError(t, targets.Sign(f.sv))
	require.NoError(t, f.repo.Write(f.set, targets, WriteOptions{}))
}

func TestWriteKeepsRootHistory(t *testing.T) {
	f := newFixture(t)

	root := f.set.Get(roles.RoleRoot)
	require.NoError(t, f.repo.Write(f.set, root, WriteOptions{}))

	hist := filepath.Join(f.repo.Dir(), "root_history", "1.root.json")
	data, err := os.ReadFile(hist)
	require.NoError(t, err)
	current, err := os.ReadFile(filepath.Join(f.repo.Dir(), "root.json"))
	require.NoError(t, err)
	assert.Equal(t, current, data)
}

func TestReadCreatesOnlineRolesAtVersionZero(t *testing.T) {
	f := newFixture(t)

	snapshot, err := f.repo.Read(roles.RoleSnapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.Version())

	_, err = f.repo.Read("no-such-role")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindMalformedMetadata, apierrors.KindOf(err))
}

func TestChangedRolesOrdering(t *testing.T) {
	f := newFixture(t)

	// baseline identical to the working tree
	baseDir := t.TempDir()
	for _, name := range []string{"root", "targets"} {
		data, err := os.ReadFile(filepath.Join(f.repo.Dir(), name+".json"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, name+".json"), data, 0o644))
	}

	r := Open(f.repo.Dir(), WithBaseline(baseDir), WithClock(clocktesting.NewFakePassiveClock(testNow)))
	changed, err := r.ChangedRoles()
	require.NoError(t, err)
	assert.Empty(t, changed)

	// touch targets and add a delegated role: root stays unchanged
	set, err := r.Load()
	require.NoError(t, err)
	_, err = r.BumpVersion(set, roles.RoleTargets)
	require.NoError(t, err)
	require.NoError(t, r.Write(set, set.Get(roles.RoleTargets), WriteOptions{PartialEvent: true}))

	delegated := roles.NewTargets("project", testNow.AddDate(0, 0, 90))
	data, err := delegated.Bytes()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.repo.Dir(), "project.json"), data, 0o644))

	changed, err = r.ChangedRoles()
	require.NoError(t, err)
	assert.Equal(t, []string{"targets", "project"}, changed)
}

func TestEventState(t *testing.T) {
	dir := t.TempDir()

	state, err := LoadEventState(dir)
	require.NoError(t, err)
	assert.Empty(t, state.Invites)

	state.Invite("root", "@user2")
	state.Invite("root", "@user2") // dedup
	state.Invite("project", "@user3")
	require.NoError(t, state.Save(dir))

	loaded, err := LoadEventState(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"@user2"}, loaded.InvitedForRole("root"))
	assert.True(t, loaded.Has("project", "@user3"))

	loaded.ClearInvite("root", "@user2")
	loaded.ClearInvite("project", "@user3")
	require.NoError(t, loaded.Save(dir))
	_, err = os.Stat(filepath.Join(dir, StateFileName))
	assert.True(t, os.IsNotExist(err))
}

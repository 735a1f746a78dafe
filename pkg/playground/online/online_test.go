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

package online

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/v2/metadata"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type testRepo struct {
	dir        string
	targetsDir string
	clock      *clocktesting.FakePassiveClock
}

// setupRepo writes a committed repository state: root and targets
// signed by an offline key, snapshot/timestamp delegated to the
// LOCAL_TESTING_KEY online key. Snapshot expiry 10 days per the online
// bump scenario.
func setupRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	metadataDir := filepath.Join(dir, "metadata")
	targetsDir := filepath.Join(dir, "targets")
	require.NoError(t, os.MkdirAll(metadataDir, 0o755))
	require.NoError(t, os.MkdirAll(targetsDir, 0o755))

	// test-only online key via the environment-backed signer
	onlinePub, onlinePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	t.Setenv("LOCAL_TESTING_KEY", hex.EncodeToString(onlinePriv.Seed()))
	onlineKey, err := metadata.KeyFromPublicKey(onlinePub)
	require.NoError(t, err)
	roles.SetOnlineURI(onlineKey, signerbackend.EnvKeyScheme)

	offlinePub, offlinePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	offlineKey, err := metadata.KeyFromPublicKey(offlinePub)
	require.NoError(t, err)
	roles.SetKeyOwner(offlineKey, "@user1")
	offlineSV, err := signature.LoadSignerVerifier(offlinePriv, crypto.Hash(0))
	require.NoError(t, err)

	root := roles.NewRoot(testNow.AddDate(1, 0, 0))
	for _, name := range []string{roles.RoleRoot, roles.RoleTargets} {
		require.NoError(t, root.Root.Signed.AddKey(offlineKey, name))
	}
	for _, name := range []string{roles.RoleSnapshot, roles.RoleTimestamp} {
		require.NoError(t, root.Root.Signed.AddKey(onlineKey, name))
	}
	for _, name := range []string{roles.RoleSnapshot, roles.RoleTimestamp} {
		root.Root.Signed.Roles[name].UnrecognizedFields = map[string]any{}
	}
	roles.SetExpiryPeriod(root.Root.Signed.Roles[roles.RoleSnapshot].UnrecognizedFields, 10)
	roles.SetExpiryPeriod(root.Root.Signed.Roles[roles.RoleTimestamp].UnrecognizedFields, 10)
	roles.SetExpiryPeriod(root.SignedFields(), 365)
	roles.SetSigningPeriod(root.SignedFields(), 60)

	targets := roles.NewTargets(roles.RoleTargets, testNow.AddDate(0, 0, 180))
	roles.SetExpiryPeriod(targets.SignedFields(), 180)
	roles.SetSigningPeriod(targets.SignedFields(), 30)

	require.NoError(t, root.Sign(offlineSV))
	require.NoError(t, targets.Sign(offlineSV))

	for _, r := range []*roles.Role{root, targets} {
		data, err := r.Bytes()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(metadataDir, r.Name+".json"), data, 0o644))
	}

	return &testRepo{
		dir:        metadataDir,
		targetsDir: targetsDir,
		clock:      clocktesting.NewFakePassiveClock(testNow),
	}
}

func (tr *testRepo) engine() *Engine {
	r := repo.Open(tr.dir, repo.WithClock(tr.clock))
	return New(r, tr.targetsDir, &signerbackend.Options{})
}

func TestSnapshotFirstPublish(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	res, err := tr.engine().Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, res.SnapshotUpdated)
	assert.True(t, res.TimestampUpdated)
	assert.Equal(t, int64(1), res.SnapshotVersion)
	assert.Equal(t, int64(1), res.TimestampVersion)

	// both online roles must verify against root
	set, err := roles.LoadDir(tr.dir)
	require.NoError(t, err)
	for _, name := range []string{roles.RoleSnapshot, roles.RoleTimestamp} {
		sig, err := set.VerifyRole(name)
		require.NoError(t, err)
		assert.True(t, sig.OK(), "%s must meet threshold", name)
	}
	assert.Equal(t, int64(1), set.Get(roles.RoleSnapshot).Snapshot.Signed.Meta["targets.json"].Version)
}

func TestSnapshotIsIdempotent(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	_, err := tr.engine().Snapshot(ctx)
	require.NoError(t, err)

	// unchanged inputs: the second run writes nothing new
	res, err := tr.engine().Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, res.SnapshotUpdated)
	assert.False(t, res.TimestampUpdated)
	assert.Equal(t, int64(1), res.SnapshotVersion)
}

func TestBumpOnlineSchedule(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	_, err := tr.engine().Snapshot(ctx)
	require.NoError(t, err)

	// same day: nothing to do
	bumps, err := tr.engine().BumpOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, bumps)

	// day 11: snapshot (10 day expiry) is inside the window, and a
	// snapshot bump carries timestamp with it
	tr.clock.SetTime(testNow.AddDate(0, 0, 11))
	bumps, err = tr.engine().BumpOnline(ctx)
	require.NoError(t, err)
	require.Len(t, bumps, 2)
	assert.Equal(t, BumpResult{roles.RoleSnapshot, 2}, bumps[0])
	assert.Equal(t, BumpResult{roles.RoleTimestamp, 2}, bumps[1])

	// day 13 (snapshot now good until day 21): timestamp alone... but
	// its expiry matches snapshot's here, so nothing is due yet
	tr.clock.SetTime(testNow.AddDate(0, 0, 13))
	bumps, err = tr.engine().BumpOnline(ctx)
	require.NoError(t, err)
	assert.Empty(t, bumps)

	// day 21: inside the window again
	tr.clock.SetTime(testNow.AddDate(0, 0, 21))
	bumps, err = tr.engine().BumpOnline(ctx)
	require.NoError(t, err)
	require.Len(t, bumps, 2)
	assert.Equal(t, int64(3), bumps[0].Version)
}

func TestBumpOfflineOpensEvents(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	bumps, err := tr.engine().BumpOffline(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, bumps)

	// day 151: targets (180d expiry, 30d signing period) is due,
	// root (365d/60d) is not
	tr.clock.SetTime(testNow.AddDate(0, 0, 151))
	var seen []BumpResult
	bumps, err = tr.engine().BumpOffline(ctx, func(b BumpResult) error {
		seen = append(seen, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, bumps, 1)
	assert.Equal(t, BumpResult{roles.RoleTargets, 2}, bumps[0])
	assert.Equal(t, bumps, seen)

	// the bump is version+expiry only and intentionally unsigned
	set, err := roles.LoadDir(tr.dir)
	require.NoError(t, err)
	targets := set.Get(roles.RoleTargets)
	assert.Equal(t, int64(2), targets.Version())
	assert.Empty(t, targets.Signatures())
}

func TestPublishTreeLayout(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	// root history is written by the event flow; simulate it
	histDir := filepath.Join(tr.dir, "root_history")
	require.NoError(t, os.MkdirAll(histDir, 0o755))
	rootData, err := os.ReadFile(filepath.Join(tr.dir, "root.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(histDir, "1.root.json"), rootData, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(tr.targetsDir, "hello.txt"), []byte("hi"), 0o644))

	_, err = tr.engine().Snapshot(ctx)
	require.NoError(t, err)

	publishDir := t.TempDir()
	require.NoError(t, tr.engine().Publish(publishDir))

	for _, path := range []string{
		"metadata/1.root.json",
		"metadata/timestamp.json",
		"metadata/snapshot.json",
		"metadata/1.targets.json",
		"targets/hello.txt",
	} {
		_, err := os.Stat(filepath.Join(publishDir, path))
		assert.NoError(t, err, path)
	}

	// published targets are byte-identical to the in-repo tree
	published, err := os.ReadFile(filepath.Join(publishDir, "targets", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), published)
}

func TestPublishRefusesExpiredTimestamp(t *testing.T) {
	tr := setupRepo(t)
	ctx := context.Background()

	_, err := tr.engine().Snapshot(ctx)
	require.NoError(t, err)

	tr.clock.SetTime(testNow.AddDate(1, 0, 0))
	err = tr.engine().Publish(t.TempDir())
	require.Error(t, err)
}

func TestSnapshotCancellation(t *testing.T) {
	tr := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.engine().Snapshot(ctx)
	require.Error(t, err)

	// the working tree is untouched
	_, statErr := os.Stat(filepath.Join(tr.dir, "snapshot.json"))
	assert.True(t, os.IsNotExist(statErr))
}

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

package roles

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

func testExpiry() time.Time {
	return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
}

// newTestKey returns an offline key owned by handle with its signer.
func newTestKey(t *testing.T, handle string) (*metadata.Key, signature.SignerVerifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := metadata.KeyFromPublicKey(pub)
	require.NoError(t, err)
	SetKeyOwner(key, handle)
	sv, err := signature.LoadSignerVerifier(priv, crypto.Hash(0))
	require.NoError(t, err)
	return key, sv
}

// newTestSet builds a root+targets set where both roles are delegated
// to the given key with threshold 1.
func newTestSet(t *testing.T, key *metadata.Key) *Set {
	t.Helper()
	root := NewRoot(testExpiry())
	for _, name := range []string{RoleRoot, RoleTargets, RoleSnapshot, RoleTimestamp} {
		require.NoError(t, root.Root.Signed.AddKey(key, name))
	}
	targets := NewTargets(RoleTargets, testExpiry())
	return NewSet(root, targets)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"wrong shape", `{"signed": 42}`},
		{"empty", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(RoleRoot, []byte(tc.data))
			require.Error(t, err)
			assert.Equal(t, apierrors.KindMalformedMetadata, apierrors.KindOf(err))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	key, _ := newTestKey(t, "@user1")
	root := NewRoot(testExpiry())
	require.NoError(t, root.Root.Signed.AddKey(key, RoleRoot))
	SetExpiryPeriod(root.SignedFields(), 365)
	SetSigningPeriod(root.SignedFields(), 60)
	// unrecognized custom field must survive verbatim
	root.SignedFields()["x-something-else"] = "keep me"

	data, err := root.Bytes()
	require.NoError(t, err)
	parsed, err := Parse(RoleRoot, data)
	require.NoError(t, err)

	again, err := parsed.Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))

	days, err := ExpiryPeriod(parsed.SignedFields())
	require.NoError(t, err)
	assert.Equal(t, 365, days)
	assert.Equal(t, "keep me", parsed.SignedFields()["x-something-else"])
}

func TestCanonicalBytesStable(t *testing.T) {
	key, _ := newTestKey(t, "@user1")
	root := NewRoot(testExpiry())
	require.NoError(t, root.Root.Signed.AddKey(key, RoleRoot))

	a, err := root.CanonicalSignedBytes()
	require.NoError(t, err)
	b, err := root.CanonicalSignedBytes()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// canonical bytes ignore signatures
	root.SetSignatures([]metadata.Signature{{KeyID: "x", Signature: []byte("y")}})
	c, err := root.CanonicalSignedBytes()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestKeyCustomFields(t *testing.T) {
	key, _ := newTestKey(t, "@user1")
	assert.Equal(t, "@user1", KeyOwner(key))
	assert.NoError(t, ValidateKeyCustom(key))

	online, _ := newTestKey(t, "")
	SetOnlineURI(online, "gcpkms://projects/x/keys/y")
	assert.NoError(t, ValidateKeyCustom(online))

	// both set is as invalid as neither
	SetKeyOwner(online, "@user1")
	err := ValidateKeyCustom(online)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindInvariantViolation, apierrors.KindOf(err))

	neither, _ := newTestKey(t, "")
	require.Error(t, ValidateKeyCustom(neither))
}

func TestInvitesRoundTrip(t *testing.T) {
	fields := map[string]any{}
	SetInvites(fields, map[string][]string{"root": {"@user2"}})

	// survive a JSON round trip the way metadata storage does it
	root := NewRoot(testExpiry())
	root.Root.Signed.UnrecognizedFields = fields
	data, err := root.Bytes()
	require.NoError(t, err)
	parsed, err := Parse(RoleRoot, data)
	require.NoError(t, err)

	invites := Invites(parsed.SignedFields())
	assert.Equal(t, map[string][]string{"root": {"@user2"}}, invites)

	SetInvites(parsed.SignedFields(), nil)
	assert.Empty(t, Invites(parsed.SignedFields()))
	_, present := parsed.SignedFields()[FieldInvites]
	assert.False(t, present)
}

func TestDelegationResolution(t *testing.T) {
	key, _ := newTestKey(t, "@user1")
	set := newTestSet(t, key)

	d, err := set.Delegation(RoleTargets)
	require.NoError(t, err)
	assert.Equal(t, RoleRoot, d.Delegator)
	assert.Equal(t, 1, d.Threshold)
	require.Len(t, d.Keys, 1)
	assert.Equal(t, []string{"@user1"}, d.Owners())

	_, err = set.Delegation("no-such-role")
	require.Error(t, err)
}

func TestVerifyRole(t *testing.T) {
	key, sv := newTestKey(t, "@user1")
	set := newTestSet(t, key)
	targets := set.Get(RoleTargets)

	res, err := set.VerifyRole(RoleTargets)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Len(t, res.Missing, 1)

	// empty placeholder still counts as missing, not invalid
	targets.SetSignatures([]metadata.Signature{{KeyID: key.ID(), Signature: []byte{}}})
	res, err = set.VerifyRole(RoleTargets)
	require.NoError(t, err)
	assert.Len(t, res.Missing, 1)
	assert.Empty(t, res.Invalid)

	targets.SetSignatures(nil)
	require.NoError(t, targets.Sign(sv))
	res, err = set.VerifyRole(RoleTargets)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{key.ID()}, res.Valid)

	// a changed payload invalidates the signature
	targets.SetVersion(targets.Version() + 1)
	res, err = set.VerifyRole(RoleTargets)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, []string{key.ID()}, res.Invalid)
}

func TestNamesOrder(t *testing.T) {
	key, _ := newTestKey(t, "@user1")
	set := newTestSet(t, key)
	set.Add(NewTargets("zeta", testExpiry()))
	set.Add(NewTargets("alpha", testExpiry()))

	assert.Equal(t, []string{RoleRoot, RoleTargets, "alpha", "zeta"}, set.Names())
}

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
	"bytes"
	"crypto"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// SigResult is the outcome of verifying one role against its delegation.
type SigResult struct {
	Role      string
	Threshold int

	// Keyids partitioned by verification outcome. Empty placeholder
	// signatures count as missing, not invalid.
	Valid   []string
	Invalid []string
	Missing []string
}

// OK reports whether the threshold is met by valid signatures.
func (r *SigResult) OK() bool {
	return len(r.Valid) >= r.Threshold
}

// VerifierFor builds a verifier for a metadata key. Unsupported key
// types surface as UnknownScheme.
func VerifierFor(key *metadata.Key) (signature.Verifier, error) {
	hash, err := hashForKey(key)
	if err != nil {
		return nil, err
	}
	pub, err := key.ToPublicKey()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnknownScheme, "", err)
	}
	v, err := signature.LoadVerifier(pub, hash)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnknownScheme, "", err)
	}
	return v, nil
}

func hashForKey(key *metadata.Key) (crypto.Hash, error) {
	switch key.Type {
	case metadata.KeyTypeEd25519:
		return crypto.Hash(0), nil
	case metadata.KeyTypeECDSA_SHA2_P256:
		return crypto.SHA256, nil
	case metadata.KeyTypeRSASSA_PSS_SHA256:
		return crypto.SHA256, nil
	}
	if key.Scheme == "ecdsa-sha2-nistp384" {
		return crypto.SHA384, nil
	}
	return 0, apierrors.New(apierrors.KindUnknownScheme, "", "unsupported key type %q scheme %q", key.Type, key.Scheme)
}

// VerifyRole checks every signature slot of the delegation's key set
// against the role's canonical payload.
func (s *Set) VerifyRole(name string) (*SigResult, error) {
	role := s.Get(name)
	if role == nil {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "role not in set")
	}
	d, err := s.Delegation(name)
	if err != nil {
		return nil, err
	}
	return VerifyAgainst(role, d)
}

// VerifyAgainst verifies a role against an explicit delegation. The
// signing-event engine uses this to check a proposed role against both
// the baseline's and the event's key sets.
func VerifyAgainst(role *Role, d *Delegation) (*SigResult, error) {
	payload, err := role.CanonicalSignedBytes()
	if err != nil {
		return nil, err
	}

	res := &SigResult{Role: role.Name, Threshold: d.Threshold}
	for _, key := range d.Keys {
		sig, ok := role.Signature(key.ID())
		if !ok || len(sig.Signature) == 0 {
			res.Missing = append(res.Missing, key.ID())
			continue
		}
		verifier, err := VerifierFor(key)
		if err != nil {
			return nil, err
		}
		err = verifier.VerifySignature(bytes.NewReader(sig.Signature), bytes.NewReader(payload))
		if err != nil {
			res.Invalid = append(res.Invalid, key.ID())
		} else {
			res.Valid = append(res.Valid, key.ID())
		}
	}
	return res, nil
}

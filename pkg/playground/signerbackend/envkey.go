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

package signerbackend

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/env"
)

// Scheme for the test-only online backend: a hex-encoded ed25519
// private key in LOCAL_TESTING_KEY stands in for cloud KMS so the CI
// test suite can run the online engine end to end.
const EnvKeyScheme = "envkey:"

func init() {
	Register(EnvKeyScheme, envKeySigner)
}

func envKeySigner(_ context.Context, _ string, _ *metadata.Key, _ *Options) (signature.SignerVerifier, error) {
	raw := env.Getenv(env.VariableLocalTestingKey)
	if raw == "" {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "%s is not set", env.VariableLocalTestingKey)
	}
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "%s is not hex", env.VariableLocalTestingKey)
	}
	var priv ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(seed)
	default:
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "%s has unexpected length %d", env.VariableLocalTestingKey, len(seed))
	}
	sv, err := signature.LoadSignerVerifier(priv, crypto.Hash(0))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	return sv, nil
}

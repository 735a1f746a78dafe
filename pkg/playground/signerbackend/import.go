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

	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// ImportKey resolves a signer URI and returns the TUF public key for
// it. This is how the workbench binds a hardware token or a cloud KMS
// key into a delegation.
func ImportKey(ctx context.Context, uri string, opts *Options) (*metadata.Key, error) {
	sv, err := SignerFor(ctx, uri, nil, opts)
	if err != nil {
		return nil, err
	}
	pub, err := sv.PublicKey()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	key, err := metadata.KeyFromPublicKey(pub)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnknownScheme, "", err)
	}
	return key, nil
}

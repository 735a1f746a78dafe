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

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/sigstore/sigstore/pkg/signature/kms"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"

	// register the cloud KMS providers
	_ "github.com/sigstore/sigstore/pkg/signature/kms/aws"
	_ "github.com/sigstore/sigstore/pkg/signature/kms/azure"
	_ "github.com/sigstore/sigstore/pkg/signature/kms/gcp"
	_ "github.com/sigstore/sigstore/pkg/signature/kms/hashivault"
)

func init() {
	for _, prefix := range []string{"gcpkms://", "azurekms://", "awskms://", "hashivault://"} {
		Register(prefix, kmsSigner)
	}
}

// kmsSigner defers entirely to the sigstore KMS provider mux; cloud
// credentials come from the ambient environment (GCP_*, AZURE_*, ...).
func kmsSigner(ctx context.Context, uri string, _ *metadata.Key, _ *Options) (signature.SignerVerifier, error) {
	sv, err := kms.Get(ctx, uri, crypto.SHA256)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindSignerUnavailable, "", err)
	}
	return sv, nil
}

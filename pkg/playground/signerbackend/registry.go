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

// Package signerbackend resolves signing-key URIs to signers. Backends
// register themselves by URI scheme; the engines never branch on key
// kinds, they hand the URI to the registry.
package signerbackend

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// Options carry local configuration some backends need. Unused fields
// are ignored by backends that don't need them.
type Options struct {
	// PKCS11ModulePath is the shared library for hardware tokens,
	// usually from the pykcs11lib config key.
	PKCS11ModulePath string
	// GetPIN prompts for a secret (token PIN, passphrase). The string
	// argument names what is being asked for.
	GetPIN func(name string) (string, error)
	// FulcioURL overrides the keyless CA endpoint.
	FulcioURL string
}

// Factory builds a signer for one URI. The metadata key is the public
// half the signatures must verify against; backends may use it to
// select the right hardware slot or to double-check the cloud key.
type Factory func(ctx context.Context, uri string, key *metadata.Key, opts *Options) (signature.SignerVerifier, error)

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

// Register adds a factory for a URI prefix (e.g. "gcpkms://",
// "pkcs11:"). Duplicate registration is a programming error.
func Register(prefix string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := factories[prefix]; ok {
		panic("signerbackend: duplicate registration for " + prefix)
	}
	factories[prefix] = f
}

// Schemes lists the registered URI prefixes.
func Schemes() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(factories))
	for p := range factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SignerFor resolves uri to a signer. An unregistered scheme is
// SignerUnavailable: the repository may legitimately reference backends
// this build doesn't carry.
func SignerFor(ctx context.Context, uri string, key *metadata.Key, opts *Options) (signature.SignerVerifier, error) {
	if opts == nil {
		opts = &Options{}
	}
	mu.Lock()
	var factory Factory
	for prefix, f := range factories {
		if strings.HasPrefix(uri, prefix) {
			factory = f
			break
		}
	}
	mu.Unlock()
	if factory == nil {
		return nil, apierrors.New(apierrors.KindSignerUnavailable, "", "no signer backend for %q", uri)
	}
	return factory(ctx, uri, key, opts)
}

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

// Package providers furnishes ambient OIDC identity tokens for the
// keyless signer backend. Providers register in order; the first one
// enabled in the execution context wins.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	m       sync.Mutex
	entries []entry
)

type entry struct {
	name     string
	provider Interface
}

// Interface is what providers implement to furnish OIDC tokens.
type Interface interface {
	// Enabled returns true if the provider can run in this context.
	Enabled(ctx context.Context) bool
	// Provide returns an OIDC token scoped to the provided audience.
	Provide(ctx context.Context, audience string) (string, error)
}

func Register(name string, p Interface) {
	m.Lock()
	defer m.Unlock()
	for _, e := range entries {
		if e.name == name {
			panic(fmt.Sprintf("duplicate provider for name %q, %T and %T", name, e.provider, p))
		}
	}
	entries = append(entries, entry{name: name, provider: p})
}

// Enabled checks whether any registered provider is enabled.
func Enabled(ctx context.Context) bool {
	m.Lock()
	defer m.Unlock()
	for _, e := range entries {
		if e.provider.Enabled(ctx) {
			return true
		}
	}
	return false
}

// Provide fetches an OIDC token from the first enabled provider.
func Provide(ctx context.Context, audience string) (string, error) {
	m.Lock()
	defer m.Unlock()
	var lastErr error
	enabled := false
	for _, e := range entries {
		if !e.provider.Enabled(ctx) {
			continue
		}
		enabled = true
		tok, err := e.provider.Provide(ctx, audience)
		if err == nil {
			return tok, nil
		}
		lastErr = err
	}
	if !enabled {
		return "", errors.New("no ambient identity providers are enabled")
	}
	return "", lastErr
}

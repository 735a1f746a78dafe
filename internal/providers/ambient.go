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

package providers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sigstore/repository-playground/pkg/playground/env"
)

func init() {
	Register("envvar", &envvar{})
	Register("github-actions", &githubActions{})
}

// envvar serves a pre-fetched token from SIGSTORE_ID_TOKEN.
type envvar struct{}

var _ Interface = (*envvar)(nil)

func (p *envvar) Enabled(context.Context) bool {
	_, ok := env.LookupEnv(env.VariableSigstoreIDToken)
	return ok
}

func (p *envvar) Provide(context.Context, string) (string, error) {
	return env.Getenv(env.VariableSigstoreIDToken), nil
}

// githubActions requests a token from the Actions runner's OIDC
// endpoint.
type githubActions struct{}

var _ Interface = (*githubActions)(nil)

func (ga *githubActions) Enabled(_ context.Context) bool {
	if env.Getenv(env.VariableGitHubRequestToken) == "" {
		return false
	}
	if env.Getenv(env.VariableGitHubRequestURL) == "" {
		return false
	}
	return true
}

func (ga *githubActions) Provide(ctx context.Context, audience string) (string, error) {
	url := env.Getenv(env.VariableGitHubRequestURL) + "&audience=" + audience

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Add("Authorization", "bearer "+env.Getenv(env.VariableGitHubRequestToken))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Value, nil
}

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

// Package env enumerates the environment variables the tools read.
// Every variable is registered here with a description; reading an
// unregistered variable panics, which keeps the contract list honest.
package env

import (
	"fmt"
	"os"
	"strings"
)

type Variable string

type VariableOpts struct {
	Description string
	Expects     string
	Sensitive   bool
}

func (v Variable) String() string {
	return string(v)
}

const (
	// VariableLocalTestingKey enables the test-only online signer
	// backend in place of cloud KMS.
	VariableLocalTestingKey Variable = "LOCAL_TESTING_KEY"
	// VariableSigstoreIDToken is a pre-fetched OIDC token for the
	// ambient keyless backend.
	VariableSigstoreIDToken Variable = "SIGSTORE_ID_TOKEN"
	VariablePKCS11Pin       Variable = "PLAYGROUND_PKCS11_PIN"
	VariablePKCS11Module    Variable = "PLAYGROUND_PKCS11_MODULE_PATH"
	// VariableGitHubRequestToken and VariableGitHubRequestURL are set
	// by GitHub Actions for OIDC token requests.
	VariableGitHubRequestToken Variable = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"
	VariableGitHubRequestURL   Variable = "ACTIONS_ID_TOKEN_REQUEST_URL"
)

var environmentVariables = map[Variable]VariableOpts{
	VariableLocalTestingKey: {
		Description: "hex-encoded ed25519 private key enabling the test-only online signer backend",
		Expects:     "hex string (cloud KMS is used when unset)",
		Sensitive:   true,
	},
	VariableSigstoreIDToken: {
		Description: "OIDC identity token for ambient keyless signing",
		Expects:     "a JWT",
		Sensitive:   true,
	},
	VariablePKCS11Pin: {
		Description: "PIN for the PKCS11 hardware token",
		Expects:     "string with a PIN (asked interactively by default)",
		Sensitive:   true,
	},
	VariablePKCS11Module: {
		Description: "overrides the PKCS11 module path from the config file",
		Expects:     "path to a shared library",
		Sensitive:   false,
	},
	VariableGitHubRequestToken: {
		Description: "bearer token for the GitHub Actions OIDC endpoint",
		Expects:     "string set by the Actions runner",
		Sensitive:   true,
	},
	VariableGitHubRequestURL: {
		Description: "URL of the GitHub Actions OIDC endpoint",
		Expects:     "URL set by the Actions runner",
		Sensitive:   false,
	},
}

// contract variables whose names are fixed by external systems
var unprefixed = map[Variable]bool{
	VariableLocalTestingKey:    true,
	VariableSigstoreIDToken:    true,
	VariableGitHubRequestToken: true,
	VariableGitHubRequestURL:   true,
}

func mustRegisterEnv(name Variable) {
	if _, ok := environmentVariables[name]; !ok {
		panic(fmt.Sprintf("environment variable %q is not registered in pkg/playground/env", name.String()))
	}
	if !unprefixed[name] && !strings.HasPrefix(name.String(), "PLAYGROUND_") {
		panic(fmt.Sprintf("environment variable %q must start with PLAYGROUND_ prefix", name.String()))
	}
}

func Getenv(name Variable) string {
	mustRegisterEnv(name)
	return os.Getenv(name.String())
}

func LookupEnv(name Variable) (string, bool) {
	mustRegisterEnv(name)
	return os.LookupEnv(name.String())
}

// EnvironmentVariables returns the registered variable set for help
// output.
func EnvironmentVariables() map[Variable]VariableOpts {
	return environmentVariables
}

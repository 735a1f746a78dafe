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

// Package apierrors defines the error kinds that cross engine boundaries.
// Internal helpers wrap with fmt.Errorf as usual; every error that reaches
// a CLI or a signing-event report is classified as one of these kinds.
package apierrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is the zero value; it is never assigned explicitly.
	KindUnknown Kind = iota
	KindMalformedMetadata
	KindUnknownScheme
	KindSignerUnavailable
	KindSignatureRejected
	KindInvariantViolation
	KindVersionRegression
	KindExpiryPolicyViolation
	KindGitSurface
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindMalformedMetadata:
		return "MalformedMetadata"
	case KindUnknownScheme:
		return "UnknownScheme"
	case KindSignerUnavailable:
		return "SignerUnavailable"
	case KindSignatureRejected:
		return "SignatureRejected"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindVersionRegression:
		return "VersionRegression"
	case KindExpiryPolicyViolation:
		return "ExpiryPolicyViolation"
	case KindGitSurface:
		return "GitSurfaceError"
	case KindCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Fatal reports whether errors of this kind terminate the current
// invocation instead of being folded into the signing-event report.
func (k Kind) Fatal() bool {
	switch k {
	case KindSignerUnavailable, KindGitSurface, KindCancelled:
		return true
	}
	return false
}

// Error carries a kind, the role it concerns (may be empty) and a cause.
type Error struct {
	Kind Kind
	Role string
	err  error
}

func New(kind Kind, role, format string, a ...any) *Error {
	return &Error{Kind: kind, Role: role, err: fmt.Errorf(format, a...)}
}

func Wrap(kind Kind, role string, err error) *Error {
	return &Error{Kind: kind, Role: role, err: err}
}

func (e *Error) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Role, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf classifies err. Unclassified errors map to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps an error to the process exit code the CI step expects.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

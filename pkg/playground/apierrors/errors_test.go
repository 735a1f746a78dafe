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

package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindVersionRegression, "root", "version %d below baseline", 1)
	assert.Equal(t, KindVersionRegression, KindOf(err))

	wrapped := fmt.Errorf("while checking: %w", err)
	assert.Equal(t, KindVersionRegression, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindExpiryPolicyViolation, "targets", "too far ahead")
	assert.Equal(t, "ExpiryPolicyViolation: targets: too far ahead", err.Error())

	noRole := New(KindGitSurface, "", "push failed")
	assert.Equal(t, "GitSurfaceError: push failed", noRole.Error())
}

func TestFatalKinds(t *testing.T) {
	fatal := []Kind{KindSignerUnavailable, KindGitSurface, KindCancelled}
	for _, k := range fatal {
		assert.True(t, k.Fatal(), k.String())
	}
	reported := []Kind{
		KindMalformedMetadata, KindUnknownScheme, KindInvariantViolation,
		KindVersionRegression, KindExpiryPolicyViolation, KindSignatureRejected,
	}
	for _, k := range reported {
		assert.False(t, k.Fatal(), k.String())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindMalformedMetadata, "root", cause)
	assert.True(t, errors.Is(err, cause))
}

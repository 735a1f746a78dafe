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
	"encoding/json"
	"sort"

	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// Recognized custom-metadata fields. Everything else found in
// UnrecognizedFields passes through load/save untouched.
const (
	FieldOnlineURI     = "x-playground-online-uri"
	FieldKeyOwner      = "x-playground-keyowner"
	FieldExpiryPeriod  = "x-playground-expiry-period"
	FieldSigningPeriod = "x-playground-signing-period"
	FieldInvites       = "x-playground-invites"
)

func keyField(k *metadata.Key, field string) string {
	if k.UnrecognizedFields == nil {
		return ""
	}
	s, _ := k.UnrecognizedFields[field].(string)
	return s
}

func setKeyField(k *metadata.Key, field, value string) {
	// the keyid covers the key without its custom fields, as on signatures
	k.ID()
	if k.UnrecognizedFields == nil {
		k.UnrecognizedFields = map[string]any{}
	}
	k.UnrecognizedFields[field] = value
}

// OnlineURI returns the key's signer URI, or "" for offline keys.
func OnlineURI(k *metadata.Key) string {
	return keyField(k, FieldOnlineURI)
}

func SetOnlineURI(k *metadata.Key, uri string) {
	setKeyField(k, FieldOnlineURI, uri)
}

// KeyOwner returns the handle of the human responsible for the key, or
// "" for online keys.
func KeyOwner(k *metadata.Key) string {
	return keyField(k, FieldKeyOwner)
}

func SetKeyOwner(k *metadata.Key, owner string) {
	setKeyField(k, FieldKeyOwner, owner)
}

// ValidateKeyCustom enforces the key custom-field invariant: exactly one
// of online-uri and keyowner is set.
func ValidateKeyCustom(k *metadata.Key) error {
	online := OnlineURI(k) != ""
	owned := KeyOwner(k) != ""
	if online == owned {
		return apierrors.New(apierrors.KindInvariantViolation, "",
			"key %s must carry exactly one of %s and %s", k.ID(), FieldOnlineURI, FieldKeyOwner)
	}
	return nil
}

// intField reads an integer custom field. JSON decoding leaves numbers
// as float64 in the unrecognized-field map.
func intField(fields map[string]any, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, apierrors.New(apierrors.KindMalformedMetadata, "", "missing field %s", name)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindMalformedMetadata, "", err)
		}
		return int(i), nil
	}
	return 0, apierrors.New(apierrors.KindMalformedMetadata, "", "field %s is not a number", name)
}

// ExpiryPeriod reads the days added to now at each version bump.
func ExpiryPeriod(fields map[string]any) (int, error) {
	return intField(fields, FieldExpiryPeriod)
}

func SetExpiryPeriod(fields map[string]any, days int) {
	fields[FieldExpiryPeriod] = days
}

// SigningPeriod reads the days-before-expiry that triggers a bump.
func SigningPeriod(fields map[string]any) (int, error) {
	return intField(fields, FieldSigningPeriod)
}

func SetSigningPeriod(fields map[string]any, days int) {
	fields[FieldSigningPeriod] = days
}

// Invites reads the delegating role's open invitations: delegated role
// name to owner handles awaiting acceptance.
func Invites(fields map[string]any) map[string][]string {
	out := map[string][]string{}
	raw, ok := fields[FieldInvites].(map[string]any)
	if !ok {
		return out
	}
	for role, v := range raw {
		items, ok := v.([]any)
		if !ok {
			continue
		}
		var owners []string
		for _, it := range items {
			if s, ok := it.(string); ok {
				owners = append(owners, s)
			}
		}
		sort.Strings(owners)
		out[role] = owners
	}
	return out
}

// SetInvites stores invitations, dropping the field entirely when there
// are none left.
func SetInvites(fields map[string]any, invites map[string][]string) {
	if len(invites) == 0 {
		delete(fields, FieldInvites)
		return
	}
	m := map[string]any{}
	for role, owners := range invites {
		if len(owners) == 0 {
			continue
		}
		items := make([]any, 0, len(owners))
		for _, o := range owners {
			items = append(items, o)
		}
		m[role] = items
	}
	if len(m) == 0 {
		delete(fields, FieldInvites)
		return
	}
	fields[FieldInvites] = m
}

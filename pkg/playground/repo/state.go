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

package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// StateFileName is the signer-written record of open invitations,
// kept next to the metadata in the signing-event branch.
const StateFileName = ".signing-event-state"

// EventState mirrors the delegating roles' open invites for the CI:
// delegated role name to owner handles that have not yet bound a key.
type EventState struct {
	Invites map[string][]string `json:"invites"`
}

// LoadEventState reads the state file from a metadata directory. A
// missing file means no open invites.
func LoadEventState(dir string) (*EventState, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if os.IsNotExist(err) {
		return &EventState{Invites: map[string][]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading event state: %w", err)
	}
	s := &EventState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing event state: %w", err)
	}
	if s.Invites == nil {
		s.Invites = map[string][]string{}
	}
	return s, nil
}

// Save writes the state file, or removes it when no invites remain.
func (s *EventState) Save(dir string) error {
	path := filepath.Join(dir, StateFileName)
	empty := true
	for _, owners := range s.Invites {
		if len(owners) > 0 {
			empty = false
			break
		}
	}
	if empty {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// InvitedForRole returns the owners invited to sign the named role.
func (s *EventState) InvitedForRole(role string) []string {
	owners := append([]string(nil), s.Invites[role]...)
	sort.Strings(owners)
	return owners
}

// Invite records an invitation, deduplicating per role.
func (s *EventState) Invite(role, owner string) {
	for _, o := range s.Invites[role] {
		if o == owner {
			return
		}
	}
	s.Invites[role] = append(s.Invites[role], owner)
	sort.Strings(s.Invites[role])
}

// Has reports whether owner is invited to role.
func (s *EventState) Has(role, owner string) bool {
	for _, o := range s.Invites[role] {
		if o == owner {
			return true
		}
	}
	return false
}

// ClearInvite removes an owner's invitation to a role.
func (s *EventState) ClearInvite(role, owner string) {
	owners := s.Invites[role]
	for i, o := range owners {
		if o == owner {
			s.Invites[role] = append(owners[:i], owners[i+1:]...)
			break
		}
	}
	if len(s.Invites[role]) == 0 {
		delete(s.Invites, role)
	}
}

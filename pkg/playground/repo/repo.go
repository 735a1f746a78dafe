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

// Package repo is the repository surface: role files in a metadata
// working directory, plus the optional known-good (baseline) directory
// they are compared against. It owns persistence rules — version and
// expiry bumps, threshold enforcement on write, root history — and
// nothing about git: the caller commits.
package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
)

// Online roles are resigned automatically: their bump window is fixed
// at twice the CI cron period rather than read from metadata.
const onlineSigningWindow = 13 * time.Hour

// Repo is one metadata working directory.
type Repo struct {
	dir     string
	prevDir string
	clock   clock.PassiveClock
}

// Option configures a Repo.
type Option func(*Repo)

// WithBaseline sets the known-good metadata directory used by
// ReadBaseline, LoadBaseline and ChangedRoles.
func WithBaseline(dir string) Option {
	return func(r *Repo) { r.prevDir = dir }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Repo) { r.clock = c }
}

// Open returns a Repo over the given metadata directory.
func Open(dir string, opts ...Option) *Repo {
	r := &Repo{dir: dir, clock: clock.RealClock{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repo) Dir() string { return r.dir }

// Now reads the injected clock. Engines call this once per invocation.
func (r *Repo) Now() time.Time { return r.clock.Now().UTC() }

func (r *Repo) path(role string) string {
	return filepath.Join(r.dir, role+".json")
}

// List returns the role names present in the working directory.
func (r *Repo) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Load parses the whole working directory into a role set.
func (r *Repo) Load() (*roles.Set, error) {
	return roles.LoadDir(r.dir)
}

// LoadBaseline parses the known-good directory, or returns an empty set
// when no baseline is configured (initial signing event).
func (r *Repo) LoadBaseline() (*roles.Set, error) {
	if r.prevDir == "" {
		return roles.NewSet(), nil
	}
	if _, err := os.Stat(r.prevDir); os.IsNotExist(err) {
		return roles.NewSet(), nil
	}
	return roles.LoadDir(r.prevDir)
}

// Read returns the named role. Missing snapshot and timestamp are
// created empty at version 0 so the online engine's first write
// produces version 1; any other missing role is an error.
func (r *Repo) Read(role string) (*roles.Role, error) {
	data, err := os.ReadFile(r.path(role))
	if os.IsNotExist(err) {
		now := r.Now()
		switch role {
		case roles.RoleSnapshot:
			return roles.NewSnapshot(now), nil
		case roles.RoleTimestamp:
			return roles.NewTimestamp(now), nil
		}
		return nil, apierrors.New(apierrors.KindMalformedMetadata, role, "role file does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", role, err)
	}
	return roles.Parse(role, data)
}

// ReadBaseline returns the known-good version of the role, or nil when
// the baseline does not have it.
func (r *Repo) ReadBaseline(role string) (*roles.Role, error) {
	if r.prevDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(r.prevDir, role+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline %s: %w", role, err)
	}
	return roles.Parse(role, data)
}

// ChangedRoles lists roles whose bytes differ from the baseline,
// root and targets first. Online role changes are the caller's problem
// to flag; they are listed like any other change.
func (r *Repo) ChangedRoles() ([]string, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, name := range names {
		if r.prevDir == "" {
			changed = append(changed, name)
			continue
		}
		cur, err := os.ReadFile(r.path(name))
		if err != nil {
			return nil, err
		}
		prev, err := os.ReadFile(filepath.Join(r.prevDir, name+".json"))
		if os.IsNotExist(err) || !bytes.Equal(cur, prev) {
			changed = append(changed, name)
		} else if err != nil {
			return nil, err
		}
	}
	// evaluation order: root first, then targets, then the rest
	for _, top := range []string{roles.RoleTargets, roles.RoleRoot} {
		for i, name := range changed {
			if name == top {
				changed = append(changed[:i], changed[i+1:]...)
				changed = append([]string{top}, changed...)
				break
			}
		}
	}
	return changed, nil
}

// ExpiryPeriod returns the days a version bump adds to now. For online
// roles the period lives on the delegating role entry in root.
func (r *Repo) ExpiryPeriod(set *roles.Set, role string) (int, error) {
	if roles.IsOnline(role) {
		root := set.Get(roles.RoleRoot)
		if root == nil {
			return 0, apierrors.New(apierrors.KindMalformedMetadata, role, "no root in set")
		}
		entry, ok := root.Root.Signed.Roles[role]
		if !ok {
			return 0, apierrors.New(apierrors.KindMalformedMetadata, role, "not delegated by root")
		}
		days, err := roles.ExpiryPeriod(entry.UnrecognizedFields)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.KindMalformedMetadata, role, err)
		}
		return days, nil
	}
	md := set.Get(role)
	if md == nil {
		return 0, apierrors.New(apierrors.KindMalformedMetadata, role, "role not in set")
	}
	days, err := roles.ExpiryPeriod(md.SignedFields())
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindMalformedMetadata, role, err)
	}
	return days, nil
}

// BumpVersion increments the role's version and pushes its expiry to
// now + expiry period. All other signed content is preserved, and
// existing signatures are dropped since the payload changed.
func (r *Repo) BumpVersion(set *roles.Set, role string) (int64, error) {
	md := set.Get(role)
	if md == nil {
		return 0, apierrors.New(apierrors.KindMalformedMetadata, role, "role not in set")
	}
	days, err := r.ExpiryPeriod(set, role)
	if err != nil {
		return 0, err
	}
	md.SetVersion(md.Version() + 1)
	md.SetExpires(r.Now().AddDate(0, 0, days))
	md.SetSignatures(nil)
	return md.Version(), nil
}

// NeedsBump reports whether the role is inside its signing period:
// now + signing period >= expiry. Online roles use the fixed window.
func (r *Repo) NeedsBump(set *roles.Set, role string) (bool, error) {
	md := set.Get(role)
	if md == nil {
		return false, apierrors.New(apierrors.KindMalformedMetadata, role, "role not in set")
	}
	var window time.Duration
	if roles.IsOnline(role) {
		window = onlineSigningWindow
	} else {
		days, err := roles.SigningPeriod(md.SignedFields())
		if err != nil {
			return false, apierrors.Wrap(apierrors.KindMalformedMetadata, role, err)
		}
		window = time.Duration(days) * 24 * time.Hour
	}
	return !r.Now().Add(window).Before(md.Expires()), nil
}

// WriteOptions control persistence checks.
type WriteOptions struct {
	// PartialEvent suppresses the threshold check: on a signing-event
	// branch roles legitimately carry fewer signatures than required.
	PartialEvent bool
}

// Write persists a role file. Unless the caller declares a
// partial-event context, a role whose signatures do not meet its
// delegating threshold is refused. Root versions are mirrored into
// root_history/.
func (r *Repo) Write(set *roles.Set, role *roles.Role, opts WriteOptions) error {
	if !opts.PartialEvent {
		res, err := set.VerifyRole(role.Name)
		if err != nil {
			return err
		}
		if !res.OK() {
			return apierrors.New(apierrors.KindInvariantViolation, role.Name,
				"refusing to persist with %d/%d valid signatures", len(res.Valid), res.Threshold)
		}
	}

	data, err := role.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.path(role.Name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", role.Name, err)
	}

	if role.Name == roles.RoleRoot {
		histDir := filepath.Join(r.dir, "root_history")
		if err := os.MkdirAll(histDir, 0o755); err != nil {
			return err
		}
		hist := filepath.Join(histDir, fmt.Sprintf("%d.root.json", role.Version()))
		if err := os.WriteFile(hist, data, 0o644); err != nil {
			return fmt.Errorf("writing root history: %w", err)
		}
	}
	return nil
}

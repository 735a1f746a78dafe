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

// Package signer is the workbench core: it turns a user's intent —
// configure a role, accept an invitation, sign — into a minimal,
// well-formed metadata delta against the baseline. All state
// transitions are deterministic; the interactive frontend only
// collects input.
package signer

import (
	"sort"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/config"
	"github.com/sigstore/repository-playground/pkg/playground/delta"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

// State is what the workbench should offer the user next.
type State int

const (
	// StateNoAction: nothing in the event concerns this user.
	StateNoAction State = iota
	// StateUninitialized: no root yet, offer repository creation.
	StateUninitialized
	// StateInvited: an invitation awaits acceptance.
	StateInvited
	// StateTargetsChanged: local target files differ from metadata.
	StateTargetsChanged
	// StateSignatureNeeded: a changed role lacks this user's signature.
	StateSignatureNeeded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInvited:
		return "invited"
	case StateTargetsChanged:
		return "targets-changed"
	case StateSignatureNeeded:
		return "signature-needed"
	}
	return "no-action"
}

// OfflineConfig is the editable delegation of an offline role.
type OfflineConfig struct {
	Signers       []string
	Threshold     int
	ExpiryPeriod  int
	SigningPeriod int
}

func (c OfflineConfig) Equal(o OfflineConfig) bool {
	if c.Threshold != o.Threshold || c.ExpiryPeriod != o.ExpiryPeriod || c.SigningPeriod != o.SigningPeriod {
		return false
	}
	if len(c.Signers) != len(o.Signers) {
		return false
	}
	for i := range c.Signers {
		if c.Signers[i] != o.Signers[i] {
			return false
		}
	}
	return true
}

// OnlineConfig is the shared delegation of snapshot and timestamp.
type OnlineConfig struct {
	// URI resolves through the signer backend registry; Key is the
	// imported public key it belongs to.
	URI string
	Key *metadata.Key

	TimestampExpiry int
	SnapshotExpiry  int
}

// Workbench operates on one signing event checkout.
type Workbench struct {
	repo       *repo.Repo
	targetsDir string
	cfg        *config.Config
	signerOpts *signerbackend.Options

	set   *roles.Set
	base  *roles.Set
	state *repo.EventState

	// TargetChanges is what differs between targets/ and metadata,
	// keyed by role.
	TargetChanges map[string][]delta.TargetFileChange
	// Unsigned lists changed roles still missing this user's signature.
	Unsigned []string

	signers map[string]signature.SignerVerifier
}

// Open loads the event and baseline states and classifies what the
// user should do next.
func Open(r *repo.Repo, targetsDir string, cfg *config.Config, signerOpts *signerbackend.Options) (*Workbench, error) {
	w := &Workbench{
		repo:       r,
		targetsDir: targetsDir,
		cfg:        cfg,
		signerOpts: signerOpts,
		signers:    map[string]signature.SignerVerifier{},
	}

	var err error
	if w.set, err = r.Load(); err != nil {
		return nil, err
	}
	if w.base, err = r.LoadBaseline(); err != nil {
		return nil, err
	}
	if w.state, err = repo.LoadEventState(r.Dir()); err != nil {
		return nil, err
	}

	if w.set.Has(roles.RoleRoot) {
		if w.TargetChanges, err = delta.ScanTargets(targetsDir, w.set); err != nil {
			return nil, err
		}
		if err := w.findUnsigned(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// State reports the next action, in priority order.
func (w *Workbench) State() State {
	switch {
	case !w.set.Has(roles.RoleRoot):
		return StateUninitialized
	case len(w.Invites()) > 0:
		return StateInvited
	case len(w.TargetChanges) > 0:
		return StateTargetsChanged
	case len(w.Unsigned) > 0:
		return StateSignatureNeeded
	}
	return StateNoAction
}

// Invites returns the roles this user has been invited to sign.
func (w *Workbench) Invites() []string {
	var out []string
	for role, owners := range w.state.Invites {
		for _, o := range owners {
			if o == w.cfg.UserName {
				out = append(out, role)
			}
		}
	}
	sort.Strings(out)
	return out
}

// findUnsigned lists changed roles where the user holds a key but the
// event's version lacks a valid signature from it.
func (w *Workbench) findUnsigned() error {
	changed, err := w.repo.ChangedRoles()
	if err != nil {
		return err
	}
	invited := map[string]bool{}
	for _, role := range w.Invites() {
		invited[role] = true
	}
	for _, name := range changed {
		if roles.IsOnline(name) || invited[name] {
			continue
		}
		need, err := w.userSignatureNeeded(name)
		if err != nil {
			return err
		}
		if need {
			w.Unsigned = append(w.Unsigned, name)
		}
	}
	return nil
}

func (w *Workbench) userSignatureNeeded(name string) (bool, error) {
	d, err := w.set.Delegation(name)
	if err != nil {
		return false, err
	}
	res, err := roles.VerifyAgainst(w.set.Get(name), d)
	if err != nil {
		return false, err
	}
	valid := map[string]bool{}
	for _, id := range res.Valid {
		valid[id] = true
	}
	for _, k := range d.Keys {
		if roles.KeyOwner(k) == w.cfg.UserName && !valid[k.ID()] {
			return true, nil
		}
	}
	return false, nil
}

// RoleConfig reads the current delegation of an offline role, invitees
// included. A nil result means the role does not exist yet.
func (w *Workbench) RoleConfig(name string) (*OfflineConfig, error) {
	if roles.IsOnline(name) {
		return nil, apierrors.New(apierrors.KindInvariantViolation, name, "online roles have no offline config")
	}
	d, err := w.set.Delegation(name)
	if err != nil {
		return nil, nil //nolint:nilerr // no delegation: role is new
	}
	md := w.set.Get(name)
	if md == nil {
		return nil, nil
	}
	expiry, err := roles.ExpiryPeriod(md.SignedFields())
	if err != nil {
		return nil, err
	}
	signing, err := roles.SigningPeriod(md.SignedFields())
	if err != nil {
		return nil, err
	}
	cfg := &OfflineConfig{
		Threshold:     d.Threshold,
		ExpiryPeriod:  expiry,
		SigningPeriod: signing,
	}
	cfg.Signers = append(cfg.Signers, w.state.InvitedForRole(name)...)
	cfg.Signers = append(cfg.Signers, d.Owners()...)
	sort.Strings(cfg.Signers)
	return cfg, nil
}

// OnlineConfigValue reads the online delegation from root.
func (w *Workbench) OnlineConfigValue() (*OnlineConfig, error) {
	root := w.set.Get(roles.RoleRoot)
	if root == nil {
		return &OnlineConfig{TimestampExpiry: 1, SnapshotExpiry: 7}, nil
	}
	tsRole, ok := root.Root.Signed.Roles[roles.RoleTimestamp]
	if !ok {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, roles.RoleTimestamp, "not delegated by root")
	}
	snRole, ok := root.Root.Signed.Roles[roles.RoleSnapshot]
	if !ok {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, roles.RoleSnapshot, "not delegated by root")
	}
	cfg := &OnlineConfig{}
	if cfg.TimestampExpiry, _ = roles.ExpiryPeriod(tsRole.UnrecognizedFields); cfg.TimestampExpiry == 0 {
		cfg.TimestampExpiry = 1
	}
	if cfg.SnapshotExpiry, _ = roles.ExpiryPeriod(snRole.UnrecognizedFields); cfg.SnapshotExpiry == 0 {
		cfg.SnapshotExpiry = 7
	}
	for _, id := range tsRole.KeyIDs {
		if k, ok := root.Root.Signed.Keys[id]; ok {
			cfg.Key = k
			cfg.URI = roles.OnlineURI(k)
			break
		}
	}
	return cfg, nil
}

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

package signer

import (
	"context"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/delta"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

// SetRoleConfig applies an edited delegation for an offline role. The
// signingKey is only used when the user is accepting their own
// invitation; owners without keys get invitations instead.
func (w *Workbench) SetRoleConfig(ctx context.Context, name string, cfg *OfflineConfig, signingKey *metadata.Key) error {
	if roles.IsOnline(name) {
		return apierrors.New(apierrors.KindInvariantViolation, name, "online roles are configured through the online config")
	}

	delegator, err := w.ensureDelegation(name)
	if err != nil {
		return err
	}

	// rebuild the invite list: configured signers without a bound key
	for _, owner := range w.state.InvitedForRole(name) {
		w.state.ClearInvite(name, owner)
	}
	keyed := map[string]string{} // owner -> keyid
	if d, err := w.set.Delegation(name); err == nil {
		for _, k := range d.Keys {
			keyed[roles.KeyOwner(k)] = k.ID()
		}
	}
	wantSigner := map[string]bool{}
	for _, owner := range cfg.Signers {
		wantSigner[owner] = true
		if _, ok := keyed[owner]; !ok {
			w.state.Invite(name, owner)
		}
	}

	// drop keys of removed signers
	for owner, keyid := range keyed {
		if !wantSigner[owner] {
			if err := w.revokeKey(delegator, keyid, name); err != nil {
				return err
			}
		}
	}

	// accepting an invitation binds the user's key now
	if signingKey != nil && w.state.Has(name, w.cfg.UserName) {
		roles.SetKeyOwner(signingKey, w.cfg.UserName)
		if err := w.addKey(delegator, signingKey, name); err != nil {
			return err
		}
		w.state.ClearInvite(name, w.cfg.UserName)
	}

	if err := w.setThreshold(delegator, name, cfg.Threshold); err != nil {
		return err
	}

	// the role's own policy fields
	md := w.set.Get(name)
	if md == nil {
		md = roles.NewTargets(name, w.repo.Now())
		w.set.Add(md)
	}
	roles.SetExpiryPeriod(md.SignedFields(), cfg.ExpiryPeriod)
	roles.SetSigningPeriod(md.SignedFields(), cfg.SigningPeriod)

	w.mirrorInvites(delegator)
	if err := w.close(ctx, delegator.Name); err != nil {
		return err
	}
	if name != delegator.Name {
		if err := w.close(ctx, name); err != nil {
			return err
		}
	}
	return w.state.Save(w.repo.Dir())
}

// SetOnlineConfig replaces the snapshot/timestamp delegation with the
// given online key and expiry periods.
func (w *Workbench) SetOnlineConfig(ctx context.Context, cfg *OnlineConfig) error {
	root := w.set.Get(roles.RoleRoot)
	if root == nil {
		return apierrors.New(apierrors.KindMalformedMetadata, roles.RoleRoot, "no root role")
	}
	if cfg.Key == nil || cfg.URI == "" {
		return apierrors.New(apierrors.KindInvariantViolation, "", "online config needs a key URI")
	}
	roles.SetOnlineURI(cfg.Key, cfg.URI)

	for rolename, days := range map[string]int{
		roles.RoleTimestamp: cfg.TimestampExpiry,
		roles.RoleSnapshot:  cfg.SnapshotExpiry,
	} {
		entry, ok := root.Root.Signed.Roles[rolename]
		if !ok {
			return apierrors.New(apierrors.KindMalformedMetadata, rolename, "not delegated by root")
		}
		for _, keyid := range append([]string(nil), entry.KeyIDs...) {
			if err := root.Root.Signed.RevokeKey(keyid, rolename); err != nil {
				return apierrors.Wrap(apierrors.KindInvariantViolation, rolename, err)
			}
		}
		if err := root.Root.Signed.AddKey(cfg.Key, rolename); err != nil {
			return apierrors.Wrap(apierrors.KindInvariantViolation, rolename, err)
		}
		if entry.UnrecognizedFields == nil {
			entry.UnrecognizedFields = map[string]any{}
		}
		roles.SetExpiryPeriod(entry.UnrecognizedFields, days)
	}
	return w.close(ctx, roles.RoleRoot)
}

// UpdateTargets folds the on-disk target file changes into the
// affected roles and re-closes them.
func (w *Workbench) UpdateTargets(ctx context.Context) error {
	for rolename, changes := range w.TargetChanges {
		md := w.set.Get(rolename)
		if md == nil || md.Targets == nil {
			return apierrors.New(apierrors.KindMalformedMetadata, rolename, "targets role missing")
		}
		if md.Targets.Signed.Targets == nil {
			md.Targets.Signed.Targets = map[string]*metadata.TargetFiles{}
		}
		for _, c := range changes {
			if c.State == delta.FileRemoved {
				delete(md.Targets.Signed.Targets, c.Path)
			} else {
				md.Targets.Signed.Targets[c.Path] = c.Target
			}
		}
		if err := w.close(ctx, rolename); err != nil {
			return err
		}
	}
	w.TargetChanges = nil
	return nil
}

// SignRole adds the user's signature without changing the payload.
func (w *Workbench) SignRole(ctx context.Context, name string) error {
	md := w.set.Get(name)
	if md == nil {
		return apierrors.New(apierrors.KindMalformedMetadata, name, "role not in event")
	}
	d, err := w.set.Delegation(name)
	if err != nil {
		return err
	}
	for _, key := range d.Keys {
		if roles.KeyOwner(key) != w.cfg.UserName {
			continue
		}
		signer, err := w.resolveSigner(ctx, key)
		if err != nil {
			return err
		}
		replaceSignature(md, key.ID())
		if err := md.Sign(signer); err != nil {
			return err
		}
		return w.repo.Write(w.set, md, repo.WriteOptions{PartialEvent: true})
	}
	return apierrors.New(apierrors.KindSignerUnavailable, name, "%s holds no signing key for this role", w.cfg.UserName)
}

// close writes a role the way every workbench edit ends: version is
// baseline+1 (bumped once per event no matter how many edits), expiry
// follows the role's own policy, the user signs unless invites to the
// role's delegations are still open, and everyone else gets an empty
// signature slot.
func (w *Workbench) close(ctx context.Context, name string) error {
	md := w.set.Get(name)

	var prevVersion int64
	if prev := w.base.Get(name); prev != nil {
		prevVersion = prev.Version()
	}
	md.SetVersion(prevVersion + 1)

	days, err := roles.ExpiryPeriod(md.SignedFields())
	if err != nil {
		return err
	}
	md.SetExpires(w.repo.Now().AddDate(0, 0, days))
	md.SetSignatures(nil)

	openInvites := false
	for _, delegated := range w.set.DelegatedRoleNames(name) {
		if len(w.state.InvitedForRole(delegated)) > 0 {
			openInvites = true
			break
		}
	}

	d, err := w.set.Delegation(name)
	if err != nil {
		return err
	}
	sigs := []metadata.Signature{}
	for _, key := range d.Keys {
		if roles.KeyOwner(key) == w.cfg.UserName && !openInvites {
			signer, err := w.resolveSigner(ctx, key)
			if err != nil {
				return err
			}
			md.SetSignatures(sigs)
			if err := md.Sign(signer); err != nil {
				return err
			}
			sigs = md.Signatures()
			continue
		}
		sigs = append(sigs, metadata.Signature{KeyID: key.ID(), Signature: []byte{}})
	}
	md.SetSignatures(sigs)
	return w.repo.Write(w.set, md, repo.WriteOptions{PartialEvent: true})
}

// replaceSignature drops an existing signature by keyid so a re-sign
// doesn't leave duplicates behind.
func replaceSignature(md *roles.Role, keyid string) {
	sigs := md.Signatures()
	for i, s := range sigs {
		if s.KeyID == keyid {
			md.SetSignatures(append(sigs[:i], sigs[i+1:]...))
			return
		}
	}
}

// ImportOnlineKey fetches the public key behind an online signer URI
// and marks it as online.
func (w *Workbench) ImportOnlineKey(ctx context.Context, uri string) (*metadata.Key, error) {
	key, err := signerbackend.ImportKey(ctx, uri, w.signerOpts)
	if err != nil {
		return nil, err
	}
	roles.SetOnlineURI(key, uri)
	return key, nil
}

// resolveSigner picks a backend for the user's key: a configured URI
// from the settings file, sigstore for keyless key types, hardware
// token otherwise.
func (w *Workbench) resolveSigner(ctx context.Context, key *metadata.Key) (signature.SignerVerifier, error) {
	if s, ok := w.signers[key.ID()]; ok {
		return s, nil
	}
	uri := "pkcs11:"
	if configured, ok := w.cfg.SigningKeys[key.ID()]; ok {
		uri = configured
	} else if key.Type == "sigstore-oidc" {
		uri = "sigstore:"
	}
	s, err := signerbackend.SignerFor(ctx, uri, key, w.signerOpts)
	if err != nil {
		return nil, err
	}
	w.signers[key.ID()] = s
	return s, nil
}

// ensureDelegation returns the delegating role for name, creating the
// delegation on targets when the role is new.
func (w *Workbench) ensureDelegation(name string) (*roles.Role, error) {
	if roles.IsTopLevel(name) {
		root := w.set.Get(roles.RoleRoot)
		if root == nil {
			root = roles.NewRoot(w.repo.Now())
			roles.SetExpiryPeriod(root.SignedFields(), 365)
			roles.SetSigningPeriod(root.SignedFields(), 60)
			w.set.Add(root)
		}
		return root, nil
	}

	targets := w.set.Get(roles.RoleTargets)
	if targets == nil {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, roles.RoleTargets, "configure targets before delegating")
	}
	if _, err := w.set.Delegation(name); err != nil {
		if targets.Targets.Signed.Delegations == nil {
			targets.Targets.Signed.Delegations = &metadata.Delegations{
				Keys: map[string]*metadata.Key{},
			}
		}
		targets.Targets.Signed.Delegations.Roles = append(targets.Targets.Signed.Delegations.Roles,
			metadata.DelegatedRole{
				Name:        name,
				KeyIDs:      []string{},
				Threshold:   1,
				Terminating: true,
				Paths:       []string{name + "/*"},
			})
	}
	return targets, nil
}

func (w *Workbench) addKey(delegator *roles.Role, key *metadata.Key, name string) error {
	var err error
	if delegator.Root != nil {
		err = delegator.Root.Signed.AddKey(key, name)
	} else {
		err = delegator.Targets.Signed.AddKey(key, name)
	}
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvariantViolation, name, err)
	}
	return nil
}

func (w *Workbench) revokeKey(delegator *roles.Role, keyid, name string) error {
	var err error
	if delegator.Root != nil {
		err = delegator.Root.Signed.RevokeKey(keyid, name)
	} else {
		err = delegator.Targets.Signed.RevokeKey(keyid, name)
	}
	if err != nil {
		return apierrors.Wrap(apierrors.KindInvariantViolation, name, err)
	}
	return nil
}

func (w *Workbench) setThreshold(delegator *roles.Role, name string, threshold int) error {
	if delegator.Root != nil {
		entry, ok := delegator.Root.Signed.Roles[name]
		if !ok {
			return apierrors.New(apierrors.KindMalformedMetadata, name, "not delegated by root")
		}
		entry.Threshold = threshold
		return nil
	}
	for i := range delegator.Targets.Signed.Delegations.Roles {
		dr := &delegator.Targets.Signed.Delegations.Roles[i]
		if dr.Name == name {
			dr.Threshold = threshold
			return nil
		}
	}
	return apierrors.New(apierrors.KindMalformedMetadata, name, "not delegated by targets")
}

// mirrorInvites copies the state file's invites into the delegating
// role's custom field so the event engine sees them from metadata too.
func (w *Workbench) mirrorInvites(delegator *roles.Role) {
	mine := map[string][]string{}
	delegated := map[string]bool{}
	for _, n := range w.set.DelegatedRoleNames(delegator.Name) {
		delegated[n] = true
	}
	if delegator.Name == roles.RoleRoot {
		delegated[roles.RoleRoot] = true
	}
	for role, owners := range w.state.Invites {
		if delegated[role] {
			mine[role] = owners
		}
	}
	roles.SetInvites(delegator.SignedFields(), mine)
}

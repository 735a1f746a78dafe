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

// Package online is the online-signing engine: snapshot/timestamp
// production and expiry-driven version bumps, run unattended by CI.
// Failures are fatal for the run; the CI job retries. A re-run with
// unchanged inputs is a no-op.
package online

import (
	"context"

	"github.com/theupdateframework/go-tuf/v2/metadata"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/roles"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

// Engine operates on one working tree. It owns the tree exclusively
// for the duration of a call.
type Engine struct {
	repo       *repo.Repo
	targetsDir string
	signerOpts *signerbackend.Options
}

func New(r *repo.Repo, targetsDir string, signerOpts *signerbackend.Options) *Engine {
	return &Engine{repo: r, targetsDir: targetsDir, signerOpts: signerOpts}
}

// SnapshotResult reports what Snapshot produced.
type SnapshotResult struct {
	SnapshotUpdated  bool
	SnapshotVersion  int64
	TimestampUpdated bool
	TimestampVersion int64
}

// Snapshot reads the current targets versions once, produces a new
// snapshot if they moved, and a new timestamp if the snapshot moved.
func (e *Engine) Snapshot(ctx context.Context) (*SnapshotResult, error) {
	set, err := e.loadWithOnline()
	if err != nil {
		return nil, err
	}

	res := &SnapshotResult{}
	snapshot := set.Get(roles.RoleSnapshot)

	infos, err := e.targetsInfos(set)
	if err != nil {
		return nil, err
	}
	if !metaEqual(snapshot.Snapshot.Signed.Meta, infos) {
		snapshot.Snapshot.Signed.Meta = infos
		if err := e.bumpAndSign(ctx, set, roles.RoleSnapshot); err != nil {
			return nil, err
		}
		res.SnapshotUpdated = true
	}
	res.SnapshotVersion = snapshot.Version()

	timestamp := set.Get(roles.RoleTimestamp)
	if res.SnapshotUpdated {
		timestamp.Timestamp.Signed.Meta = map[string]*metadata.MetaFiles{
			"snapshot.json": metadata.MetaFile(snapshot.Version()),
		}
		if err := e.bumpAndSign(ctx, set, roles.RoleTimestamp); err != nil {
			return nil, err
		}
		res.TimestampUpdated = true
	}
	res.TimestampVersion = timestamp.Version()
	return res, nil
}

// BumpResult is one expiry-driven version bump.
type BumpResult struct {
	Role    string
	Version int64
}

// BumpOnline produces new versions of online roles inside their signing
// window. A snapshot bump forces a timestamp refresh so the published
// snapshot version stays reachable.
func (e *Engine) BumpOnline(ctx context.Context) ([]BumpResult, error) {
	set, err := e.loadWithOnline()
	if err != nil {
		return nil, err
	}

	// nothing published yet: the first snapshot() creates version 1
	if set.Get(roles.RoleSnapshot).Version() == 0 {
		return nil, nil
	}

	var bumps []BumpResult
	needSnapshot, err := e.repo.NeedsBump(set, roles.RoleSnapshot)
	if err != nil {
		return nil, err
	}
	if needSnapshot {
		if err := e.bumpAndSign(ctx, set, roles.RoleSnapshot); err != nil {
			return nil, err
		}
		bumps = append(bumps, BumpResult{roles.RoleSnapshot, set.Get(roles.RoleSnapshot).Version()})

		set.Get(roles.RoleTimestamp).Timestamp.Signed.Meta = map[string]*metadata.MetaFiles{
			"snapshot.json": metadata.MetaFile(set.Get(roles.RoleSnapshot).Version()),
		}
		if err := e.bumpAndSign(ctx, set, roles.RoleTimestamp); err != nil {
			return nil, err
		}
		bumps = append(bumps, BumpResult{roles.RoleTimestamp, set.Get(roles.RoleTimestamp).Version()})
		return bumps, nil
	}

	needTimestamp, err := e.repo.NeedsBump(set, roles.RoleTimestamp)
	if err != nil {
		return nil, err
	}
	if needTimestamp {
		if err := e.bumpAndSign(ctx, set, roles.RoleTimestamp); err != nil {
			return nil, err
		}
		bumps = append(bumps, BumpResult{roles.RoleTimestamp, set.Get(roles.RoleTimestamp).Version()})
	}
	return bumps, nil
}

// BumpOffline finds offline roles inside their signing window and
// writes a version-only bump for each, to be signed by the role's
// owners through the workbench. After each write the opened callback
// runs so the caller can commit the file onto an event branch and
// restore the working tree before the next role is considered.
func (e *Engine) BumpOffline(ctx context.Context, opened func(BumpResult) error) ([]BumpResult, error) {
	set, err := e.repo.Load()
	if err != nil {
		return nil, err
	}

	var bumps []BumpResult
	for _, name := range set.Names() {
		if roles.IsOnline(name) {
			continue
		}
		need, err := e.repo.NeedsBump(set, name)
		if err != nil {
			return nil, err
		}
		if !need {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, apierrors.Wrap(apierrors.KindCancelled, name, err)
		}
		version, err := e.repo.BumpVersion(set, name)
		if err != nil {
			return nil, err
		}
		// unsigned on purpose: the owners sign on the event branch
		if err := e.repo.Write(set, set.Get(name), repo.WriteOptions{PartialEvent: true}); err != nil {
			return nil, err
		}
		bump := BumpResult{name, version}
		if opened != nil {
			if err := opened(bump); err != nil {
				return bumps, err
			}
		}
		bumps = append(bumps, bump)
	}
	return bumps, nil
}

// loadWithOnline loads the working tree and materializes snapshot and
// timestamp if they don't exist yet (first publish).
func (e *Engine) loadWithOnline() (*roles.Set, error) {
	set, err := e.repo.Load()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{roles.RoleSnapshot, roles.RoleTimestamp} {
		if !set.Has(name) {
			r, err := e.repo.Read(name)
			if err != nil {
				return nil, err
			}
			set.Add(r)
		}
	}
	return set, nil
}

// targetsInfos collects the current targets and delegated-targets
// versions, read once per invocation.
func (e *Engine) targetsInfos(set *roles.Set) (map[string]*metadata.MetaFiles, error) {
	targets := set.Get(roles.RoleTargets)
	if targets == nil {
		return nil, apierrors.New(apierrors.KindMalformedMetadata, roles.RoleTargets, "no targets role in working tree")
	}
	infos := map[string]*metadata.MetaFiles{
		"targets.json": metadata.MetaFile(targets.Version()),
	}
	for _, name := range set.DelegatedRoleNames(roles.RoleTargets) {
		delegated := set.Get(name)
		if delegated == nil {
			return nil, apierrors.New(apierrors.KindMalformedMetadata, name, "delegated role file missing")
		}
		infos[name+".json"] = metadata.MetaFile(delegated.Version())
	}
	return infos, nil
}

// bumpAndSign produces the next version of an online role, signs it
// with every delegated online key, verifies its own output and writes
// it back. The tree is untouched on cancellation.
func (e *Engine) bumpAndSign(ctx context.Context, set *roles.Set, name string) error {
	if err := ctx.Err(); err != nil {
		return apierrors.Wrap(apierrors.KindCancelled, name, err)
	}
	if _, err := e.repo.BumpVersion(set, name); err != nil {
		return err
	}
	md := set.Get(name)

	d, err := set.Delegation(name)
	if err != nil {
		return err
	}
	for _, key := range d.Keys {
		uri := roles.OnlineURI(key)
		if uri == "" {
			return apierrors.New(apierrors.KindInvariantViolation, name, "online role delegated to offline key %s", key.ID())
		}
		signer, err := signerbackend.SignerFor(ctx, uri, key, e.signerOpts)
		if err != nil {
			return err
		}
		if err := md.Sign(signer); err != nil {
			return err
		}
	}

	// never write an online role that does not verify against root
	res, err := set.VerifyRole(name)
	if err != nil {
		return err
	}
	if !res.OK() {
		return apierrors.New(apierrors.KindInvariantViolation, name,
			"signed %d/%d, refusing to publish", len(res.Valid), res.Threshold)
	}
	if err := ctx.Err(); err != nil {
		return apierrors.Wrap(apierrors.KindCancelled, name, err)
	}
	return e.repo.Write(set, md, repo.WriteOptions{})
}

func metaEqual(a, b map[string]*metadata.MetaFiles) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av == nil || bv == nil || av.Version != bv.Version {
			return false
		}
	}
	return true
}

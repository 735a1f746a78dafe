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

// Package gitview is the engines' narrow view of git. The transport is
// an external collaborator; engines only need commit, branch and push
// on the working tree they already own.
package gitview

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sigstore/repository-playground/pkg/playground/apierrors"
)

// Surface is what the engines call. Implementations serialize pushes
// at the hosting platform; the engines assume last-writer-wins.
type Surface interface {
	// Commit records the given paths with a message on the current branch.
	Commit(ctx context.Context, msg string, paths ...string) error
	// Branch creates branch at HEAD, or reports that it already exists.
	Branch(ctx context.Context, name string) (created bool, err error)
	// Push pushes HEAD to the named remote ref.
	Push(ctx context.Context, remote, ref string) error
	// ResetHard moves the current branch to the given ref.
	ResetHard(ctx context.Context, ref string) error
}

// botIdentity is the committer the CI runs as.
var botIdentity = []string{
	"-c", "user.name=repository-playground",
	"-c", "user.email=41898282+github-actions[bot]@users.noreply.github.com",
}

// Exec shells out to git in a working tree.
type Exec struct {
	// WorkTree is the repository top level ("" for the process cwd).
	WorkTree string
}

func (g *Exec) git(ctx context.Context, args ...string) (string, error) {
	full := append([]string{}, botIdentity...)
	if g.WorkTree != "" {
		full = append(full, "-C", g.WorkTree)
	}
	full = append(full, args...)
	out, err := exec.CommandContext(ctx, "git", full...).CombinedOutput()
	if err != nil {
		return "", apierrors.New(apierrors.KindGitSurface, "", "git %s: %v: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Exec) Commit(ctx context.Context, msg string, paths ...string) error {
	args := append([]string{"commit", "-m", msg, "--"}, paths...)
	_, err := g.git(ctx, args...)
	return err
}

func (g *Exec) Branch(ctx context.Context, name string) (bool, error) {
	if _, err := g.git(ctx, "show-ref", "--quiet", "--verify", "refs/heads/"+name); err == nil {
		return false, nil
	}
	if _, err := g.git(ctx, "branch", name); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Exec) Push(ctx context.Context, remote, ref string) error {
	_, err := g.git(ctx, "push", remote, ref)
	return err
}

func (g *Exec) ResetHard(ctx context.Context, ref string) error {
	_, err := g.git(ctx, "reset", "--hard", ref)
	return err
}

// Fetch updates the remote-tracking refs for a remote.
func (g *Exec) Fetch(ctx context.Context, remote string) error {
	_, err := g.git(ctx, "fetch", remote)
	return err
}

// Checkout switches the working tree to a ref.
func (g *Exec) Checkout(ctx context.Context, ref string) error {
	_, err := g.git(ctx, "checkout", "--quiet", ref)
	return err
}

// MergeBase returns the best common ancestor of two refs.
func (g *Exec) MergeBase(ctx context.Context, a, b string) (string, error) {
	return g.git(ctx, "merge-base", a, b)
}

// WorktreeAdd checks out ref into a detached work tree at path. The
// signer tool uses this for the read-only known-good checkout.
func (g *Exec) WorktreeAdd(ctx context.Context, path, ref string) error {
	_, err := g.git(ctx, "worktree", "add", "--detach", path, ref)
	return err
}

// WorktreeRemove discards a work tree created with WorktreeAdd.
func (g *Exec) WorktreeRemove(ctx context.Context, path string) error {
	_, err := g.git(ctx, "worktree", "remove", "--force", path)
	return err
}

// TopLevel resolves the repository root for a directory.
func TopLevel(ctx context.Context, dir string) (string, error) {
	g := &Exec{WorkTree: dir}
	out, err := g.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not inside a git work tree: %w", err)
	}
	return out, nil
}

var _ Surface = (*Exec)(nil)

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

// Package cli is the signer workbench frontend: the interactive
// commands a human signer runs against a signing-event branch.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/pkg/playground/config"
	"github.com/sigstore/repository-playground/pkg/playground/gitview"
	"github.com/sigstore/repository-playground/pkg/playground/repo"
	"github.com/sigstore/repository-playground/pkg/playground/signer"
	"github.com/sigstore/repository-playground/pkg/playground/signerbackend"
)

// New returns the playground-sign root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "playground-sign",
		Short:             "Signer workbench for repository-playground signing events",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	cmd.AddCommand(Delegate())
	cmd.AddCommand(Sign())
	return cmd
}

// session is everything a workbench command needs: the parsed
// configuration, a workbench over the event checkout, and a cleanup
// for the temporary known-good work tree.
type session struct {
	cfg       *config.Config
	workbench *signer.Workbench
	git       *gitview.Exec
	prompter  Prompter

	cleanup func()
}

// openSession checks out the signing event the user is on, creates a
// detached work tree at the event's merge base with main, and opens
// the workbench over the pair.
func openSession(ctx context.Context, eventBranch string) (*session, error) {
	toplevel, err := gitview.TopLevel(ctx, "")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Read(filepath.Join(toplevel, config.FileName))
	if err != nil {
		return nil, err
	}
	git := &gitview.Exec{WorkTree: toplevel}

	if err := git.Fetch(ctx, cfg.PullRemote); err != nil {
		return nil, err
	}
	if eventBranch != "" {
		remoteRef := cfg.PullRemote + "/" + eventBranch
		if err := git.Checkout(ctx, remoteRef); err != nil {
			fmt.Fprintln(os.Stderr, "Remote branch not found: branching off from main")
			if err := git.Checkout(ctx, cfg.PullRemote+"/main"); err != nil {
				return nil, err
			}
		}
	}

	baseSHA, err := git.MergeBase(ctx, cfg.PullRemote+"/main", "HEAD")
	if err != nil {
		// empty repository: no baseline yet
		baseSHA = ""
	}

	baseDir, err := os.MkdirTemp("", "playground-known-good-")
	if err != nil {
		return nil, err
	}
	cleanup := func() { os.RemoveAll(baseDir) }
	baselineMetadata := ""
	if baseSHA != "" {
		if err := git.WorktreeAdd(ctx, filepath.Join(baseDir, "checkout"), baseSHA); err != nil {
			cleanup()
			return nil, err
		}
		prev := cleanup
		cleanup = func() {
			_ = git.WorktreeRemove(ctx, filepath.Join(baseDir, "checkout"))
			prev()
		}
		baselineMetadata = filepath.Join(baseDir, "checkout", "metadata")
	}

	prompter := &terminal{}
	opts := &signerbackend.Options{
		PKCS11ModulePath: cfg.PKCS11Lib,
		GetPIN: func(name string) (string, error) {
			return prompter.Secret(fmt.Sprintf("Enter %s to sign", name))
		},
	}

	metadataDir := filepath.Join(toplevel, "metadata")
	r := repo.Open(metadataDir, repo.WithBaseline(baselineMetadata))
	wb, err := signer.Open(r, filepath.Join(toplevel, "targets"), cfg, opts)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &session{
		cfg:       cfg,
		workbench: wb,
		git:       git,
		prompter:  prompter,
		cleanup:   cleanup,
	}, nil
}

// finish prints the follow-up instructions; the tool itself never
// commits or pushes.
func (s *session) finish(changed bool, eventBranch string) {
	s.cleanup()
	if !changed {
		fmt.Println("No changes made")
		return
	}
	fmt.Println("Done. The tool does not commit or push. Try")
	fmt.Println("  git add metadata")
	fmt.Printf("  git commit -m 'Signing event change by %s'\n", s.cfg.UserName)
	fmt.Printf("  git push %s HEAD:%s\n", s.cfg.PushRemote, eventBranch)
}

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

package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigstore/repository-playground/cmd/playground/cli/options"
	"github.com/sigstore/repository-playground/internal/ui"
	"github.com/sigstore/repository-playground/pkg/playground/gitview"
	"github.com/sigstore/repository-playground/pkg/playground/online"
)

func BumpOnline() *cobra.Command {
	o := &options.SnapshotOptions{}
	cmd := &cobra.Command{
		Use:   "bump-online",
		Short: "Commit new signed versions of online roles that are about to expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			engine := newEngine(settings)

			bumps, err := engine.BumpOnline(ctx)
			if err != nil {
				return err
			}
			if len(bumps) == 0 {
				ui.Info(ctx, "No online version bumps needed")
				return errNoChanges
			}

			var parts []string
			for _, b := range bumps {
				parts = append(parts, fmt.Sprintf("%s v%d", b.Role, b.Version))
			}
			msg := "Periodic online role version bump and resign\n\n" + strings.Join(parts, ", ")
			ui.Info(ctx, "%s", strings.Join(parts, ", "))

			git := &gitview.Exec{}
			err = git.Commit(ctx, msg,
				filepath.Join(settings.MetadataDir, "snapshot.json"),
				filepath.Join(settings.MetadataDir, "timestamp.json"))
			if err != nil {
				return err
			}
			if o.Push {
				if err := git.Push(ctx, settings.Remote, "HEAD"); err != nil {
					return err
				}
			}
			if o.PublishDir != "" {
				return engine.Publish(o.PublishDir)
			}
			return nil
		},
	}
	o.AddFlags(cmd)
	return cmd
}

func BumpOffline() *cobra.Command {
	o := &options.PushOptions{}
	cmd := &cobra.Command{
		Use:   "bump-offline",
		Short: "Open signing-event branches for offline roles that are about to expire",
		Long: `For each offline role inside its signing period, commits a
version-only bump onto a sign/<role>-v<version> branch for its owners
to sign. Prints the opened branch names, one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			engine := newEngine(settings)
			git := &gitview.Exec{}

			_, err = engine.BumpOffline(ctx, func(b online.BumpResult) error {
				branch := fmt.Sprintf("sign/%s-v%d", b.Role, b.Version)
				msg := fmt.Sprintf("Periodic version bump: %s v%d", b.Role, b.Version)
				if err := git.Commit(ctx, msg, filepath.Join(settings.MetadataDir, b.Role+".json")); err != nil {
					return err
				}
				created, err := git.Branch(ctx, branch)
				if err != nil {
					return err
				}
				if created {
					if o.Push {
						if err := git.Push(ctx, settings.Remote, "HEAD:"+branch); err != nil {
							return err
						}
					}
					fmt.Fprintln(cmd.OutOrStdout(), branch)
				} else {
					ui.Info(ctx, "Signing event branch %s already exists", branch)
				}
				// back to the original HEAD before the next role
				return git.ResetHard(ctx, "HEAD^")
			})
			return err
		},
	}
	o.AddFlags(cmd)
	return cmd
}
